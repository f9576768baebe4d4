package rbi

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/india-geodata/harvest-cli/internal/cache"
	"github.com/india-geodata/harvest-cli/internal/harvest"
)

// taxonomy holds the filter lists every branch query carries: all state
// names and all distinct bank groups. Sorted so request bodies are stable
// across runs.
type taxonomy struct {
	states     []string
	bankGroups []string
}

// stateMap returns state name to district names, fetching from the gateway
// on first use and persisting to state_map.json.
func stateMap(ctx context.Context, client *gatewayClient, dir string) (map[string][]string, error) {
	return cache.Reference(filepath.Join(dir, "state_map.json"), func() (map[string][]string, error) {
		body, err := client.call(ctx, serviceStateAndDistrict, struct{}{})
		if err != nil {
			return nil, err
		}

		var payload struct {
			Response []struct {
				State    string `json:"state"`
				Subtitle []struct {
					District string `json:"district"`
				} `json:"subtitle"`
			} `json:"response"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, harvest.NewDataShapeError(eris.Wrap(err, "rbi: decode state list"))
		}

		m := make(map[string][]string, len(payload.Response))
		for _, item := range payload.Response {
			districts := make([]string, 0, len(item.Subtitle))
			for _, d := range item.Subtitle {
				districts = append(districts, d.District)
			}
			m[item.State] = districts
		}
		if len(m) == 0 {
			return nil, harvest.NewDataShapeError(eris.New("rbi: state list is empty"))
		}
		return m, nil
	})
}

// bankGroupMap returns bank name to group name, persisted to
// bank_group.json. The "BAnk" capitalization in the list key is the
// gateway's own.
func bankGroupMap(ctx context.Context, client *gatewayClient, dir string) (map[string]string, error) {
	return cache.Reference(filepath.Join(dir, "bank_group.json"), func() (map[string]string, error) {
		body, err := client.call(ctx, serviceBankAndGroup, struct{}{})
		if err != nil {
			return nil, err
		}

		var payload struct {
			Groups []struct {
				BankGroupName string `json:"bankGroupName"`
				Subtitle      []struct {
					BankName string `json:"bankName"`
				} `json:"subtitle"`
			} `json:"BankGroupANDBAnkList"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, harvest.NewDataShapeError(eris.Wrap(err, "rbi: decode bank group list"))
		}

		m := make(map[string]string)
		for _, g := range payload.Groups {
			for _, b := range g.Subtitle {
				m[b.BankName] = g.BankGroupName
			}
		}
		if len(m) == 0 {
			return nil, harvest.NewDataShapeError(eris.New("rbi: bank group list is empty"))
		}
		return m, nil
	})
}

// loadTaxonomy assembles the query filter lists from the reference caches.
func loadTaxonomy(ctx context.Context, client *gatewayClient, dir string) (*taxonomy, error) {
	states, err := stateMap(ctx, client, dir)
	if err != nil {
		return nil, err
	}
	banks, err := bankGroupMap(ctx, client, dir)
	if err != nil {
		return nil, err
	}

	tax := &taxonomy{states: make([]string, 0, len(states))}
	for state := range states {
		tax.states = append(tax.states, state)
	}
	sort.Strings(tax.states)

	seen := make(map[string]bool)
	for _, group := range banks {
		if !seen[group] {
			seen[group] = true
			tax.bankGroups = append(tax.bankGroups, group)
		}
	}
	sort.Strings(tax.bankGroups)

	return tax, nil
}
