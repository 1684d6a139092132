package costtrack

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelPrice holds the USD rates for one model, expressed per million units
// (tokens, credits, or whatever the provider meters).
type ModelPrice struct {
	InputPerMillion  float64 `yaml:"input_per_million" json:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million" json:"output_per_million"`
}

// PriceTable maps model names to their per-million rates. Unknown models fall
// back to Default, a deliberately conservative tier so unpriced models never
// under-count spend.
type PriceTable struct {
	Models  map[string]ModelPrice `yaml:"models"`
	Default ModelPrice            `yaml:"default"`
}

// DefaultPriceTable returns the built-in price table.
//
// Rates are point-in-time list prices; override them with a pricing file when
// they drift. The default tier is $2.00/M input and $8.00/M output.
func DefaultPriceTable() *PriceTable {
	return &PriceTable{
		Models: map[string]ModelPrice{
			"gpt-4o":            {InputPerMillion: 2.50, OutputPerMillion: 10.00},
			"gpt-4o-mini":       {InputPerMillion: 0.15, OutputPerMillion: 0.60},
			"gpt-4.1":           {InputPerMillion: 2.00, OutputPerMillion: 8.00},
			"gpt-4.1-mini":      {InputPerMillion: 0.40, OutputPerMillion: 1.60},
			"claude-sonnet-4-0": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
			"claude-haiku-3-5":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
			"text-embedding-3-small": {
				InputPerMillion:  0.02,
				OutputPerMillion: 0,
			},
		},
		Default: ModelPrice{InputPerMillion: 2.00, OutputPerMillion: 8.00},
	}
}

// LoadPriceTable reads a YAML pricing file.
//
// The file must carry a "models" map and a "default" tier:
//
//	models:
//	  gpt-4o:
//	    input_per_million: 2.50
//	    output_per_million: 10.00
//	default:
//	  input_per_million: 2.00
//	  output_per_million: 8.00
//
// A missing default tier is filled from DefaultPriceTable so lookups always
// resolve.
func LoadPriceTable(path string) (*PriceTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}

	var table PriceTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file %s: %w", path, err)
	}
	if table.Default == (ModelPrice{}) {
		table.Default = DefaultPriceTable().Default
	}
	if table.Models == nil {
		table.Models = make(map[string]ModelPrice)
	}
	return &table, nil
}

// Estimate computes the USD cost of a call: units/1,000,000 × rate per
// million, input and output summed. Pure function; unknown models use the
// default tier.
func (p *PriceTable) Estimate(model string, inputUnits, outputUnits int64) float64 {
	price, ok := p.Models[model]
	if !ok {
		price = p.Default
	}
	return float64(inputUnits)/1_000_000*price.InputPerMillion +
		float64(outputUnits)/1_000_000*price.OutputPerMillion
}
