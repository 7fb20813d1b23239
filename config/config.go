// Package config loads the tracked-account roster.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"itk-fetcher/pkg/itk"
)

// defaultTier is assumed when a roster entry leaves the tier unset.
const defaultTier = 3

// Roster is the on-disk shape of an accounts file.
type Roster struct {
	Accounts []itk.Account `yaml:"accounts"`
}

// Load reads the account roster from a YAML file. An empty path returns the
// built-in default roster.
func Load(path string) ([]itk.Account, error) {
	if path == "" {
		return DefaultAccounts(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}

	if len(roster.Accounts) == 0 {
		return nil, fmt.Errorf("accounts file %s lists no accounts", path)
	}

	seen := make(map[string]bool, len(roster.Accounts))
	for i := range roster.Accounts {
		acct := &roster.Accounts[i]
		if acct.Handle == "" {
			return nil, fmt.Errorf("account %d: handle is required", i)
		}
		if seen[acct.Handle] {
			return nil, fmt.Errorf("account %d: duplicate handle %q", i, acct.Handle)
		}
		seen[acct.Handle] = true
		if acct.Reliability < 0 || acct.Reliability > 1 {
			return nil, fmt.Errorf("account %q: reliability %v outside 0.0-1.0", acct.Handle, acct.Reliability)
		}
		if acct.Tier == 0 {
			acct.Tier = defaultTier
		}
	}

	return roster.Accounts, nil
}

// DefaultAccounts returns the built-in tier-1 ITK roster.
func DefaultAccounts() []itk.Account {
	return []itk.Account{
		{Handle: "FabrizioRomano", Name: "Fabrizio Romano", Reliability: 0.95, Tier: 1},
		{Handle: "David_Ornstein", Name: "David Ornstein", Reliability: 0.93, Tier: 1},
		{Handle: "SamLee", Name: "Sam Lee", Reliability: 0.92, Tier: 1},
		{Handle: "_pauljoyce", Name: "Paul Joyce", Reliability: 0.91, Tier: 1},
		{Handle: "lauriewhitwell", Name: "Laurie Whitwell", Reliability: 0.90, Tier: 1},
		{Handle: "RobDawsonESPN", Name: "Rob Dawson", Reliability: 0.89, Tier: 1},
		{Handle: "LukeEdwardsTele", Name: "Luke Edwards", Reliability: 0.88, Tier: 1},
		{Handle: "JPercyTelegraph", Name: "John Percy", Reliability: 0.90, Tier: 1},
		{Handle: "CraigHope_DM", Name: "Craig Hope", Reliability: 0.87, Tier: 1},
		{Handle: "DeanJonesSoccer", Name: "Dean Jones", Reliability: 0.86, Tier: 1},
		{Handle: "SirayahShiraz", Name: "Sirayah Shiraz", Reliability: 0.85, Tier: 1},
		{Handle: "BouhafsiMohamed", Name: "Mohamed Bouhafsi", Reliability: 0.90, Tier: 1},
		{Handle: "DiMarzio", Name: "Gianluca Di Marzio", Reliability: 0.91, Tier: 1},
		{Handle: "alfredopedulla", Name: "Alfredo Pedulla", Reliability: 0.88, Tier: 1},
		{Handle: "honigstein", Name: "Raphael Honigstein", Reliability: 0.89, Tier: 1},
	}
}
