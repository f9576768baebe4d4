package rbi

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/india-geodata/harvest-cli/internal/config"
	"github.com/india-geodata/harvest-cli/internal/harvest"
	"github.com/india-geodata/harvest-cli/internal/record"
)

// SourceName identifies this source in the registry, the cache, and the
// run log.
const SourceName = "rbi_branches"

// locatorFilter mirrors the gateway's branchLocatorResultVO. Unused filter
// dimensions must still be present as empty lists or strings or the
// gateway rejects the query.
type locatorFilter struct {
	DistrictList        []string `json:"districtList"`
	SubDistrictList     []string `json:"subDistrictList"`
	Address             string   `json:"address"`
	TypeList            []string `json:"typeList"`
	BankList            []string `json:"bankList"`
	Part1Code           string   `json:"part1Code"`
	StateList           []string `json:"stateList"`
	BankGroupList       []string `json:"bankGroupList"`
	Branch              string   `json:"branch"`
	CenterList          []string `json:"centerList"`
	PopulationGroupList []string `json:"populationGroupList"`
	StatusType          string   `json:"statusType"`
	SubTypeList         []string `json:"subTypeList"`
}

type locatorRequest struct {
	BranchLocatorResultVO locatorFilter `json:"branchLocatorResultVO"`
	OffsetValue           int           `json:"offsetValue"`
	LimitValue            int           `json:"limitValue"`
}

// Source harvests branch records per category from the DBIE locator.
type Source struct {
	cfg    config.RBIConfig
	client *gatewayClient
	refDir string
	log    *zap.Logger

	mu  sync.Mutex
	tax *taxonomy
}

// New builds the source. refDir is where the state and bank-group
// reference caches persist, conventionally the source's cache directory.
func New(cfg config.RBIConfig, httpCfg config.HTTPConfig, refDir string) (*Source, error) {
	client, err := newGatewayClient(cfg, httpCfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(refDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "rbi: create reference dir %s", refDir)
	}
	return &Source{
		cfg:    cfg,
		client: client,
		refDir: refDir,
		log:    zap.L().With(zap.String("component", "rbi")),
	}, nil
}

func (s *Source) Name() string { return SourceName }

func (s *Source) Title() string { return "RBI bank branch locator" }

// Keys returns the configured branch categories. The taxonomy loads here
// so a dead gateway fails the run before any category is attempted.
func (s *Source) Keys(ctx context.Context) ([]harvest.WorkKey, error) {
	if _, err := s.taxonomy(ctx); err != nil {
		return nil, err
	}
	keys := make([]harvest.WorkKey, 0, len(s.cfg.BranchTypes))
	for _, t := range s.cfg.BranchTypes {
		keys = append(keys, harvest.WorkKey(t))
	}
	return keys, nil
}

func (s *Source) PageSize() int { return s.cfg.PageSize }

// FetchPage queries one page of branches for a category across all states
// and bank groups.
func (s *Source) FetchPage(ctx context.Context, key harvest.WorkKey, offset int) (*harvest.Page, error) {
	tax, err := s.taxonomy(ctx)
	if err != nil {
		return nil, err
	}

	req := locatorRequest{
		BranchLocatorResultVO: locatorFilter{
			DistrictList:        []string{},
			SubDistrictList:     []string{},
			TypeList:            []string{string(key)},
			BankList:            []string{},
			StateList:           tax.states,
			BankGroupList:       tax.bankGroups,
			CenterList:          []string{},
			PopulationGroupList: []string{},
			SubTypeList:         []string{},
		},
		OffsetValue: offset,
		LimitValue:  s.cfg.PageSize,
	}

	body, err := s.client.call(ctx, serviceBranchData, req)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Response []json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, harvest.NewDataShapeError(eris.Wrapf(err, "rbi: decode branch page for %s", key))
	}

	return &harvest.Page{
		Records: payload.Response,
		HasMore: len(payload.Response) == s.cfg.PageSize,
	}, nil
}

// Normalize converts one raw branch record into a point feature. The
// gateway spells latitude "lattitude"; both spellings are accepted.
// Coordinates arrive as text, sometimes with stray backslash escapes.
func (s *Source) Normalize(raw json.RawMessage, key harvest.WorkKey) (*geojson.Feature, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, harvest.NewRejectError(eris.Wrap(err, "rbi: decode branch record"))
	}

	lonText, err := popString(fields, "longitude")
	if err != nil {
		return nil, err
	}
	latText, err := popString(fields, "lattitude", "latitude")
	if err != nil {
		return nil, err
	}

	lon, err := record.ParseCoordinate(lonText)
	if err != nil {
		return nil, harvest.NewRejectError(err)
	}
	lat, err := record.ParseCoordinate(latText)
	if err != nil {
		return nil, harvest.NewRejectError(err)
	}

	fields["branch_type"] = string(key)
	f, err := record.NewPoint(lon, lat, fields)
	if err != nil {
		return nil, harvest.NewRejectError(err)
	}
	return f, nil
}

func (s *Source) taxonomy(ctx context.Context) (*taxonomy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tax != nil {
		return s.tax, nil
	}
	tax, err := loadTaxonomy(ctx, s.client, s.refDir)
	if err != nil {
		return nil, err
	}
	s.tax = tax
	return tax, nil
}

// popString removes the first present name from fields and returns its
// textual value.
func popString(fields map[string]any, names ...string) (string, error) {
	for _, name := range names {
		v, ok := fields[name]
		if !ok {
			continue
		}
		delete(fields, name)
		switch t := v.(type) {
		case string:
			return t, nil
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), nil
		case nil:
			return "", harvest.NewRejectError(eris.Errorf("rbi: %s is null", name))
		default:
			return "", harvest.NewRejectError(eris.Errorf("rbi: %s has unexpected type %T", name, v))
		}
	}
	return "", harvest.NewRejectError(eris.Errorf("rbi: record lacks %s", strings.Join(names, "/")))
}
