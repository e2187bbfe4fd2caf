// Package naming validates and builds the hierarchical names given to queues
// and components, e.g. "Core[2].LoadQueue".
package naming

import (
	"fmt"
	"strconv"
	"strings"
)

// Named describes an object that has a name.
type Named interface {
	Name() string
}

// Token is one dot-separated element of a name.
type Token struct {
	ElemName string
	Index    []int
}

// Parse splits a name into tokens. It returns an error when brackets do not
// match or an index is not an integer.
func Parse(name string) ([]Token, error) {
	parts := strings.Split(name, ".")
	tokens := make([]Token, len(parts))

	for i, part := range parts {
		token, err := parseToken(part)
		if err != nil {
			return nil, err
		}

		tokens[i] = token
	}

	return tokens, nil
}

func parseToken(token string) (Token, error) {
	if err := bracketsMustMatch(token); err != nil {
		return Token{}, err
	}

	segments := strings.Split(token, "[")
	indices := make([]int, len(segments)-1)

	for i, seg := range segments[1:] {
		if !strings.HasSuffix(seg, "]") {
			return Token{}, fmt.Errorf("index %q is not closed", seg)
		}

		index, err := strconv.Atoi(strings.TrimSuffix(seg, "]"))
		if err != nil {
			return Token{}, fmt.Errorf("index must be integer")
		}

		indices[i] = index
	}

	return Token{ElemName: segments[0], Index: indices}, nil
}

func bracketsMustMatch(token string) error {
	open := 0

	for _, c := range token {
		switch c {
		case '[':
			open++
		case ']':
			open--
			if open < 0 {
				return fmt.Errorf("brackets must match")
			}
		}
	}

	if open != 0 {
		return fmt.Errorf("brackets must match")
	}

	return nil
}

// Validate checks the naming convention:
//  1. Elements are separated by dots, and no element is empty.
//  2. Each element is capitalized CamelCase and contains no _ - ' or ".
//  3. Series are written with square-bracket indices, e.g. "Bank[3]".
func Validate(name string) error {
	tokens, err := Parse(name)
	if err != nil {
		return fmt.Errorf("name %q is not valid: %w", name, err)
	}

	for _, token := range tokens {
		if err := tokenMustBeValid(token); err != nil {
			return fmt.Errorf("name %q is not valid: %w", name, err)
		}
	}

	return nil
}

func tokenMustBeValid(token Token) error {
	if token.ElemName == "" {
		return fmt.Errorf("name element must not be empty")
	}

	for _, c := range []string{"_", "\"", "'", "-"} {
		if strings.Contains(token.ElemName, c) {
			return fmt.Errorf("name element must not contain %s", c)
		}
	}

	if token.ElemName[0] < 'A' || token.ElemName[0] > 'Z' {
		return fmt.Errorf("name element must start with a capital letter")
	}

	return nil
}

// MustBeValid panics if the name does not follow the naming convention.
func MustBeValid(name string) {
	if err := Validate(name); err != nil {
		panic(err)
	}
}

// Build joins a parent name and an element name.
func Build(parentName, elementName string) string {
	if parentName == "" {
		return elementName
	}

	return parentName + "." + elementName
}

// BuildWithIndex joins a parent name and an indexed element name.
func BuildWithIndex(parentName, elementName string, index int) string {
	return Build(parentName, elementName+"["+strconv.Itoa(index)+"]")
}
