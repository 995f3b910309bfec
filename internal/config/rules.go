package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"torii_shield/internal/dataType"

	"github.com/cespare/xxhash/v2"
)

// RuleSet stores all rules. It is built once per load and never modified
// afterwards.
type RuleSet struct {
	Version    uint64
	IPAllowV4  *dataType.IPTrie
	IPAllowV6  *dataType.IPTrie
	IPBlockV4  *dataType.IPTrie
	IPBlockV6  *dataType.IPTrie
	BlockLists map[dataType.Field]*dataType.RuleList
	AllowLists map[dataType.Field]*dataType.RuleList
}

var (
	ipRuleFiles = map[string]bool{
		"IP_AllowList.conf": true,
		"IP_BlockList.conf": false,
	}
	blockRuleFiles = map[dataType.Field]string{
		dataType.FieldURL:       "URL_BlockList.conf",
		dataType.FieldArgs:      "Args_BlockList.conf",
		dataType.FieldUserAgent: "UserAgent_BlockList.conf",
		dataType.FieldReferer:   "Referer_BlockList.conf",
		dataType.FieldCookie:    "Cookie_BlockList.conf",
		dataType.FieldBody:      "Body_BlockList.conf",
	}
	allowRuleFiles = map[dataType.Field]string{
		dataType.FieldURLAllow:     "URL_AllowList.conf",
		dataType.FieldRefererAllow: "Referer_AllowList.conf",
	}
)

// Trie returns the allow or block trie for addr's family.
func (rs *RuleSet) Trie(addr netip.Addr, allow bool) *dataType.IPTrie {
	v4 := dataType.FamilyOf(addr) == dataType.IPv4
	switch {
	case allow && v4:
		return rs.IPAllowV4
	case allow:
		return rs.IPAllowV6
	case v4:
		return rs.IPBlockV4
	default:
		return rs.IPBlockV6
	}
}

// Release returns the tries' memory to the pool they were built with.
func (rs *RuleSet) Release() {
	for _, t := range []*dataType.IPTrie{rs.IPAllowV4, rs.IPAllowV6, rs.IPBlockV4, rs.IPBlockV6} {
		if t != nil {
			t.Release()
		}
	}
}

// LoadRules Load all rules from the specified path. Tries are allocated
// from pool. The IP lists are required, the field lists optional.
func LoadRules(rulePath string, pool dataType.Pool) (*RuleSet, error) {
	rs := &RuleSet{
		BlockLists: make(map[dataType.Field]*dataType.RuleList),
		AllowLists: make(map[dataType.Field]*dataType.RuleList),
	}
	var err error
	for _, t := range []struct {
		dst    **dataType.IPTrie
		family dataType.IPFamily
	}{
		{&rs.IPAllowV4, dataType.IPv4},
		{&rs.IPAllowV6, dataType.IPv6},
		{&rs.IPBlockV4, dataType.IPv4},
		{&rs.IPBlockV6, dataType.IPv6},
	} {
		if *t.dst, err = dataType.NewIPTrie(t.family, pool); err != nil {
			rs.Release()
			return nil, err
		}
	}

	digest := xxhash.New()

	for _, name := range []string{"IP_AllowList.conf", "IP_BlockList.conf"} {
		data, err := os.ReadFile(filepath.Join(rulePath, name))
		if err != nil {
			rs.Release()
			return nil, fmt.Errorf("[ERROR] failed to read rules file %s: %w", name, err)
		}
		_, _ = digest.Write(data)
		v4, v6 := rs.IPBlockV4, rs.IPBlockV6
		if ipRuleFiles[name] {
			v4, v6 = rs.IPAllowV4, rs.IPAllowV6
		}
		if err := loadIPRules(name, data, v4, v6); err != nil {
			rs.Release()
			return nil, err
		}
	}

	for _, f := range dataType.Fields {
		name, allow := allowRuleFiles[f]
		if !allow {
			name = blockRuleFiles[f]
		}
		data, err := os.ReadFile(filepath.Join(rulePath, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			rs.Release()
			return nil, fmt.Errorf("[ERROR] failed to read rules file %s: %w", name, err)
		}
		_, _ = digest.WriteString(name)
		_, _ = digest.Write(data)
		list, err := loadFieldRules(name, data)
		if err != nil {
			rs.Release()
			return nil, err
		}
		if allow {
			rs.AllowLists[f] = list
		} else {
			rs.BlockLists[f] = list
		}
	}

	rs.Version = digest.Sum64()
	return rs, nil
}

func ruleLines(data []byte, fn func(lineNo int, line string) error) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// loadIPRules parses one address or CIDR per line into the trie of its
// family. Bare addresses cover a single host.
func loadIPRules(name string, data []byte, v4, v6 *dataType.IPTrie) error {
	return ruleLines(data, func(lineNo int, line string) error {
		if !strings.Contains(line, "/") {
			if strings.Count(line, ":") < 2 {
				line += "/32"
			} else {
				line += "/128"
			}
		}
		prefix, err := netip.ParsePrefix(line)
		if err != nil {
			return fmt.Errorf("%s:%d: %w: %v", name, lineNo, dataType.ErrInvalidPrefix, err)
		}
		trie := v6
		if dataType.FamilyOf(prefix.Addr()) == dataType.IPv4 {
			trie = v4
		}
		if err := trie.InsertPrefix(prefix, []byte(name)); err != nil {
			return fmt.Errorf("%s:%d: %w", name, lineNo, err)
		}
		return nil
	})
}

// loadFieldRules Load string rules; anything that looks like a pattern is
// compiled as a regular expression
func loadFieldRules(name string, data []byte) (*dataType.RuleList, error) {
	list := &dataType.RuleList{}
	err := ruleLines(data, func(lineNo int, line string) error {
		isRegex := strings.HasPrefix(line, "^") || strings.HasSuffix(line, "$") || strings.ContainsAny(line, ".*+?()[]{}|\\")
		var compiled *regexp.Regexp
		if isRegex {
			var err error
			compiled, err = regexp.Compile(line)
			if err != nil {
				return fmt.Errorf("%s:%d: invalid rule %q: %w", name, lineNo, line, err)
			}
		}
		list.Append(&dataType.Rule{
			Pattern: line,
			IsRegex: isRegex,
			Regex:   compiled,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}
