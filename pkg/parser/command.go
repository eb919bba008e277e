package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// Leg is one token to sell
type Leg struct {
	// Amount is a decimal string, empty when All is set
	Amount string
	Token  string
	All    bool
}

// DumpRequest is a parsed dump command
type DumpRequest struct {
	Legs   []Leg
	Output string
}

var (
	dumpPattern = regexp.MustCompile(`(?i)^(.+?)\s+to\s+(\S+)$`)
	legPattern  = regexp.MustCompile(`(?i)^(all|\d+\.?\d*|\.\d+)\s+(\S+)$`)
)

// ParseDumpCommand parses a natural language dump command
// Examples:
//   - "dump 100 USDC, 0.5 LINK to WETH"
//   - "all DAI, all USDT to ETH"
//   - "dump 12 0x6B175474E89094C44Da98b954EedeAC495271d0F to USDC"
func ParseDumpCommand(command string) (*DumpRequest, error) {
	command = strings.Join(strings.Fields(command), " ")

	// Remove the word "dump" if present at the beginning
	if len(command) > 5 && strings.EqualFold(command[:5], "dump ") {
		command = command[5:]
	}

	matches := dumpPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid dump command format. Expected: 'dump <amount> <token>[, <amount> <token>...] to <token>' (e.g., 'dump 100 USDC, all DAI to WETH')")
	}

	req := &DumpRequest{Output: NormalizeTokenSymbol(matches[2])}
	seen := make(map[string]bool)

	for _, part := range strings.Split(matches[1], ",") {
		leg, err := ParseLeg(part)
		if err != nil {
			return nil, err
		}
		if seen[leg.Token] {
			return nil, fmt.Errorf("token %s is listed twice", leg.Token)
		}
		seen[leg.Token] = true
		req.Legs = append(req.Legs, leg)
	}

	if err := ValidateDumpRequest(req); err != nil {
		return nil, err
	}
	return req, nil
}

// ParseLeg parses one "<amount> <token>" or "all <token>" pair
func ParseLeg(part string) (Leg, error) {
	part = strings.Join(strings.Fields(part), " ")
	m := legPattern.FindStringSubmatch(part)
	if m == nil {
		return Leg{}, fmt.Errorf("invalid token amount %q. Expected '<amount> <token>' or 'all <token>'", part)
	}

	leg := Leg{Token: NormalizeTokenSymbol(m[2])}
	if strings.EqualFold(m[1], "all") {
		leg.All = true
	} else {
		leg.Amount = m[1]
	}
	return leg, nil
}

// ValidateDumpRequest validates that a dump request has all required fields
func ValidateDumpRequest(req *DumpRequest) error {
	if len(req.Legs) == 0 {
		return fmt.Errorf("at least one token to sell is required")
	}
	if req.Output == "" {
		return fmt.Errorf("destination token is required")
	}
	for _, leg := range req.Legs {
		if leg.Token == "" {
			return fmt.Errorf("source token is required")
		}
		if !leg.All && leg.Amount == "" {
			return fmt.Errorf("amount is required for %s", leg.Token)
		}
		if leg.Token == req.Output {
			return fmt.Errorf("cannot dump %s for itself", leg.Token)
		}
	}
	return nil
}

// NormalizeTokenSymbol upper-cases symbols and leaves addresses untouched
func NormalizeTokenSymbol(symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if strings.HasPrefix(symbol, "0x") || strings.HasPrefix(symbol, "0X") {
		return "0x" + symbol[2:]
	}
	return strings.ToUpper(symbol)
}
