package dataType

import "regexp"

// Rule is one line of a rule file: an exact string or a regular expression
type Rule struct {
	Pattern string
	IsRegex bool
	Regex   *regexp.Regexp
	Next    *Rule
}

// RuleList struct LinkedList
type RuleList struct {
	Head *Rule
	size int
}

// Append add a rule to the end of the list
func (l *RuleList) Append(rule *Rule) {
	l.size++
	if l.Head == nil {
		l.Head = rule
		return
	}
	current := l.Head
	for current.Next != nil {
		current = current.Next
	}
	current.Next = rule
}

// Match returns the first rule matching value. A nil list matches nothing.
func (l *RuleList) Match(value string) (string, bool) {
	if l == nil {
		return "", false
	}
	current := l.Head
	for current != nil {
		if current.IsRegex {
			if current.Regex.MatchString(value) {
				return current.Pattern, true
			}
		} else if current.Pattern == value {
			return current.Pattern, true
		}
		current = current.Next
	}
	return "", false
}

func (l *RuleList) Len() int {
	if l == nil {
		return 0
	}
	return l.size
}
