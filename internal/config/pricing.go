package config

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// PricingTable maps a token duration in hours to its price. It is injected
// into the token service and resolved on every issue call, so pricing can be
// swapped per environment and per test.
type PricingTable struct {
	prices map[int]decimal.Decimal
}

// LoadPricingTable reads the table from configuration. Format:
// "1=1.50,24=18.00,168=90.00". Malformed pairs are logged and skipped.
func LoadPricingTable() *PricingTable {
	viper.SetDefault("pricing.table", "1=1.50,24=18.00,168=90.00")

	table, err := ParsePricingTable(viper.GetString("pricing.table"))
	if err != nil {
		log.Printf("[CONFIG] Invalid pricing table, using defaults: %v", err)
		table, _ = ParsePricingTable("1=1.50,24=18.00,168=90.00")
	}
	return table
}

func ParsePricingTable(raw string) (*PricingTable, error) {
	prices := make(map[int]decimal.Decimal)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed pricing pair %q", pair)
		}
		hours, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || hours <= 0 {
			return nil, fmt.Errorf("invalid duration in pricing pair %q", pair)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil || price.IsNegative() {
			return nil, fmt.Errorf("invalid price in pricing pair %q", pair)
		}
		prices[hours] = price.Round(2)
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("pricing table is empty")
	}
	return &PricingTable{prices: prices}, nil
}

func NewPricingTable(prices map[int]decimal.Decimal) *PricingTable {
	copied := make(map[int]decimal.Decimal, len(prices))
	for hours, price := range prices {
		copied[hours] = price
	}
	return &PricingTable{prices: copied}
}

// Price returns the configured price for a duration. The second return is
// false for unconfigured durations.
func (p *PricingTable) Price(durationHours int) (decimal.Decimal, bool) {
	price, ok := p.prices[durationHours]
	return price, ok
}

// Durations lists the configured durations in ascending order.
func (p *PricingTable) Durations() []int {
	durations := make([]int, 0, len(p.prices))
	for hours := range p.prices {
		durations = append(durations, hours)
	}
	sort.Ints(durations)
	return durations
}
