package rldata

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"k8s.io/klog/v2"
)

// LoadRewards reads a reward/terminal table from a CSV file. The first row
// is a header; the first column is the reward, the second the terminal
// flag (0/1 or true/false). Extra columns are ignored.
func LoadRewards(path string) ([]float64, []bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) < 2 {
		return nil, nil, ErrEmpty
	}

	rewards := make([]float64, 0, len(records)-1)
	terminals := make([]bool, 0, len(records)-1)
	for i, record := range records[1:] {
		if len(record) < 2 {
			return nil, nil, fmt.Errorf("%w: row %d has %d columns", ErrRagged, i+1, len(record))
		}
		reward, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("rldata: row %d reward: %w", i+1, err)
		}
		terminal, err := parseFlag(record[1])
		if err != nil {
			return nil, nil, fmt.Errorf("rldata: row %d terminal: %w", i+1, err)
		}
		rewards = append(rewards, reward)
		terminals = append(terminals, terminal)
	}
	klog.V(1).Infof("%d reward rows loaded from %s", len(rewards), path)
	return rewards, terminals, nil
}

func parseFlag(s string) (bool, error) {
	switch s {
	case "0", "0.0":
		return false, nil
	case "1", "1.0":
		return true, nil
	}
	return strconv.ParseBool(s)
}
