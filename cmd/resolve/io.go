// Copyright © by Jeff Foley 2022-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/caffix/stringset"
	"github.com/miekg/dns"
	"github.com/owasp-amass/tunresolve/types"
	"github.com/owasp-amass/tunresolve/utils"
)

// InputDomainNames returns the valid, deduplicated names read from input in their first seen order.
func InputDomainNames(input io.Reader) []string {
	set := stringset.New()
	defer set.Close()

	var names []string
	_ = ExtractLines(input, func(str string) error {
		name := utils.RemoveLastDot(strings.ToLower(strings.TrimSpace(str)))

		if _, ok := dns.IsDomainName(name); ok && name != "" && !set.Has(name) {
			set.Insert(name)
			names = append(names, name)
		}
		return nil
	})
	return names
}

func ExtractLines(reader io.Reader, cb func(str string) error) error {
	scanner := bufio.NewScanner(reader)

	for scanner.Scan() {
		if err := cb(scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// ParseRecordTypes accepts record type names, also comma separated within one value.
func ParseRecordTypes(strs []string) (types.RecordTypeSet, error) {
	var set types.RecordTypeSet

	for _, s := range strs {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}

			rt, ok := types.ParseRecordType(part)
			if !ok {
				return 0, fmt.Errorf("unsupported record type: %s", part)
			}
			set = set.With(rt)
		}
	}
	if set.Len() == 0 {
		set = types.NewRecordTypeSet(types.RecordTypeA)
	}
	return set, nil
}

// FormatResult returns the output line of a successful result.
func FormatResult(name string, res types.Result) string {
	return name + "\t" + res.RecordType.String() + "\t" + res.Addr.String()
}

func openInput(path string, def io.Reader) (io.Reader, func(), error) {
	if path == "" {
		if def == nil {
			def = os.Stdin
		}
		return def, func() {}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open the input file %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

func openOutput(path string, def io.Writer) (io.Writer, func(), error) {
	if path == "" {
		if def == nil {
			def = os.Stdout
		}
		return def, func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open the output file %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}
