package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erp/marketsync/internal/domain/integration"
)

// Catalog resource names
const (
	ResourceProducts = "products"
	ActionSave       = "save"
)

// productDTO is the marketplace representation of a catalog entry
type productDTO struct {
	ID         string          `json:"id,omitempty"`
	SKU        string          `json:"sku"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Stock      int             `json:"stock"`
	Status     string          `json:"status,omitempty"`
	Owned      bool            `json:"owned"`
	ModifiedAt *time.Time      `json:"modifiedAt,omitempty"`
}

// saveResultDTO is one per-item result of products/save
type saveResultDTO struct {
	SKU     string   `json:"sku"`
	Success bool     `json:"success"`
	Errors  []string `json:"errors,omitempty"`
}

// CatalogSource pages the remote product catalog through the Client
type CatalogSource struct {
	client *Client
}

// NewCatalogSource creates a catalog source backed by the client
func NewCatalogSource(client *Client) *CatalogSource {
	return &CatalogSource{client: client}
}

// FetchCatalogPage implements integration.CatalogSource
func (s *CatalogSource) FetchCatalogPage(ctx context.Context, account integration.AccountID, page, pageSize int, filter integration.CatalogFilter) (*integration.CatalogPage, error) {
	filters := map[string]any{}
	if filter.ModifiedSince != nil {
		filters["modifiedSince"] = filter.ModifiedSince.UTC().Format(time.RFC3339)
	}
	if len(filter.Keys) > 0 {
		filters["skus"] = filter.Keys
	}
	if len(filters) == 0 {
		filters = nil
	}

	p, err := s.client.FetchPage(ctx, account, ResourceProducts, page, pageSize, filters)
	if err != nil {
		return nil, err
	}

	out := &integration.CatalogPage{
		Records:    make([]*integration.SyncedRecord, 0, len(p.Items)),
		HasMore:    p.HasMore,
		TotalItems: p.TotalItems,
	}
	for i, item := range p.Items {
		rec, err := decodeProduct(account, item)
		if err != nil {
			out.ItemErrors = append(out.ItemErrors, integration.ItemError{
				Index:      i,
				NaturalKey: productKey(item),
				Err: &integration.RemoteError{
					Kind:     integration.ErrProtocolViolation,
					Resource: ResourceProducts,
					Action:   ActionList,
					Messages: []string{fmt.Sprintf("item %d on page %d: %v", i, page, err)},
				},
			})
			continue
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

// SaveCatalogRecords implements integration.CatalogWriter through products/save
func (s *CatalogSource) SaveCatalogRecords(ctx context.Context, account integration.AccountID, records []*integration.SyncedRecord) ([]integration.ItemResult, error) {
	entities := make([]BulkEntity, len(records))
	for i, r := range records {
		entities[i] = BulkEntity{Payload: encodeProduct(r), Elements: 1}
	}

	chunks, err := s.client.SendBulk(ctx, account, ResourceProducts, ActionSave, entities)
	results := make([]integration.ItemResult, 0, len(records))
	for _, chunk := range chunks {
		perItem := map[string]saveResultDTO{}
		if chunk.Err == nil && len(chunk.Results) > 0 {
			var items []saveResultDTO
			if jsonErr := json.Unmarshal(chunk.Results, &items); jsonErr == nil {
				for _, it := range items {
					perItem[it.SKU] = it
				}
			}
		}
		for _, r := range records[chunk.Offset : chunk.Offset+chunk.Count] {
			res := integration.ItemResult{NaturalKey: r.NaturalKey, Err: chunk.Err}
			if it, ok := perItem[r.NaturalKey]; ok && !it.Success {
				res.Err = &integration.RemoteError{
					Kind:     integration.ErrValidation,
					Resource: ResourceProducts,
					Action:   ActionSave,
					Messages: it.Errors,
				}
			}
			results = append(results, res)
		}
	}
	s.confirmRejected(ctx, account, records, results)
	return results, err
}

// confirmRejected re-reads keys whose save was reported as failed and clears
// the error of every record the marketplace holds exactly as it was sent.
func (s *CatalogSource) confirmRejected(ctx context.Context, account integration.AccountID, sent []*integration.SyncedRecord, results []integration.ItemResult) {
	byKey := make(map[string]*integration.SyncedRecord, len(sent))
	for _, r := range sent {
		byKey[r.NaturalKey] = r
	}
	pending := make(map[string]int)
	keys := make([]string, 0)
	for i, res := range results {
		if res.Err == nil {
			continue
		}
		if !errors.Is(res.Err, integration.ErrValidation) && !errors.Is(res.Err, integration.ErrTransientNetwork) {
			continue
		}
		pending[res.NaturalKey] = i
		keys = append(keys, res.NaturalKey)
	}

	for start := 0; start < len(keys); start += integration.MaxPageSize {
		end := min(start+integration.MaxPageSize, len(keys))
		page, err := s.FetchCatalogPage(ctx, account, 1, integration.MaxPageSize, integration.CatalogFilter{Keys: keys[start:end]})
		if err != nil {
			s.client.logger.Warn("Could not confirm rejected catalog saves",
				zap.String("account_id", account.String()),
				zap.Int("keys", end-start),
				zap.Error(err),
			)
			return
		}
		for _, remote := range page.Records {
			i, ok := pending[remote.NaturalKey]
			if !ok || !sameContent(byKey[remote.NaturalKey], remote) {
				continue
			}
			s.client.logger.Info("Catalog save reported as failed was applied remotely",
				zap.String("account_id", account.String()),
				zap.String("natural_key", remote.NaturalKey),
				zap.Error(results[i].Err),
			)
			results[i].Err = nil
		}
	}
}

func sameContent(sent, remote *integration.SyncedRecord) bool {
	return sent != nil &&
		sent.Name == remote.Name &&
		sent.Price.Equal(remote.Price) &&
		sent.Stock == remote.Stock
}

func decodeProduct(account integration.AccountID, raw json.RawMessage) (*integration.SyncedRecord, error) {
	var dto productDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, err
	}
	rec, err := integration.NewSyncedRecord(dto.SKU, account)
	if err != nil {
		return nil, err
	}
	rec.RemoteID = dto.ID
	rec.Name = dto.Name
	rec.Price = dto.Price
	rec.Stock = dto.Stock
	rec.Owned = dto.Owned
	if dto.Status != "" {
		rec.ValidationStatus = integration.ValidationStatus(dto.Status)
	}
	if dto.ModifiedAt != nil {
		rec.ModifiedAt = dto.ModifiedAt.UTC()
	}
	return rec, nil
}

// productKey reads the sku of an entry that failed to decode, if it has one
func productKey(raw json.RawMessage) string {
	var ref struct {
		SKU any `json:"sku"`
	}
	if json.Unmarshal(raw, &ref) != nil {
		return ""
	}
	if s, ok := ref.SKU.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func encodeProduct(r *integration.SyncedRecord) productDTO {
	dto := productDTO{
		ID:     r.RemoteID,
		SKU:    r.NaturalKey,
		Name:   r.Name,
		Price:  r.Price,
		Stock:  r.Stock,
		Status: r.ValidationStatus.String(),
		Owned:  r.Owned,
	}
	if !r.ModifiedAt.IsZero() {
		t := r.ModifiedAt
		dto.ModifiedAt = &t
	}
	return dto
}

var (
	_ integration.CatalogSource = (*CatalogSource)(nil)
	_ integration.CatalogWriter = (*CatalogSource)(nil)
)
