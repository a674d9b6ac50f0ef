package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// ERPSchema validates the erp connector config.
const ERPSchema = `{
	"type": "object",
	"properties": {
		"url": {"type": "string", "minLength": 1},
		"database": {"type": "string", "minLength": 1},
		"user": {"type": "string", "minLength": 1},
		"api_key": {"type": "string", "minLength": 1}
	},
	"required": ["url", "database", "user", "api_key"]
}`

// erpWriteDateLayout is the timestamp format the ERP uses for
// write_date fields.
const erpWriteDateLayout = "2006-01-02 15:04:05"

// erpModel describes one ERP model pull: which model, which fields, and
// a base filter domain.
type erpModel struct {
	model  string
	fields []string
	domain []any
}

var erpModels = map[SourceKind]erpModel{
	SourceCustomers: {
		model:  "res.partner",
		fields: []string{"ref", "name", "email", "phone", "zip", "city", "country_code", "write_date"},
		domain: []any{[]any{"customer_rank", ">", 0}},
	},
	SourceProducts: {
		model:  "product.product",
		fields: []string{"default_code", "name", "categ_id", "list_price", "write_date"},
	},
	SourceSalesLines: {
		model:  "sale.order.line",
		fields: []string{"order_id", "partner_ref", "product_code", "product_uom_qty", "price_subtotal", "price_total", "create_date", "write_date"},
	},
	SourceStockLevels: {
		model:  "stock.quant",
		fields: []string{"product_code", "quantity", "write_date"},
	},
}

// erpColumns renames ERP fields to canonical staging columns.
var erpColumns = map[string]string{
	"ref":             "customer_code",
	"name":            "name",
	"email":           "email",
	"phone":           "phone",
	"zip":             "postal_code",
	"city":            "city",
	"country_code":    "country",
	"default_code":    "product_key",
	"categ_id":        "family",
	"list_price":      "unit_price",
	"order_id":        "doc_ref",
	"partner_ref":     "customer_code",
	"product_code":    "product_key",
	"product_uom_qty": "quantity",
	"price_subtotal":  "amount_ht",
	"price_total":     "amount_ttc",
	"create_date":     "order_date",
	"quantity":        "quantity",
}

// ERP pulls records over the ERP's JSON-RPC endpoint, incrementally by
// write_date when a cursor is supplied.
type ERP struct {
	url      string
	database string
	user     string
	apiKey   string

	client *http.Client
	log    *slog.Logger

	uid   int
	reqID int
}

func NewERP(config map[string]any) (*ERP, error) {
	if err := ValidateConfig(KindERP, ERPSchema, config); err != nil {
		return nil, err
	}
	return &ERP{
		url:      config["url"].(string),
		database: config["database"].(string),
		user:     config["user"].(string),
		apiKey:   config["api_key"].(string),
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      slog.Default().With("component", "connector.erp"),
	}, nil
}

func (e *ERP) Kind() Kind { return KindERP }

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int       `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Message string `json:"message"`
	Data    struct {
		Message string `json:"message"`
	} `json:"data"`
}

func (e *rpcError) Error() string {
	if e.Data.Message != "" {
		return e.Data.Message
	}
	return e.Message
}

func (e *ERP) call(ctx context.Context, service, method string, args []any, result any) error {
	e.reqID++
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      e.reqID,
	})
	if err != nil {
		return fmt.Errorf("connector: marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("connector: erp call %s.%s: %w", service, method, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("connector: erp call %s.%s: status %d", service, method, resp.StatusCode)
	}

	var rpc rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return fmt.Errorf("connector: decode rpc response: %w", err)
	}
	if rpc.Error != nil {
		return fmt.Errorf("connector: erp call %s.%s: %w", service, method, rpc.Error)
	}
	if result != nil {
		if err := json.Unmarshal(rpc.Result, result); err != nil {
			return fmt.Errorf("connector: decode rpc result: %w", err)
		}
	}
	return nil
}

// TestConnection authenticates against the ERP and caches the uid.
func (e *ERP) TestConnection(ctx context.Context) error {
	var uid int
	err := e.call(ctx, "common", "authenticate", []any{e.database, e.user, e.apiKey, map[string]any{}}, &uid)
	if err != nil {
		return err
	}
	if uid == 0 {
		return fmt.Errorf("connector: erp authentication rejected for %s", e.user)
	}
	e.uid = uid
	return nil
}

// Extract pulls each requested model. With a LastSync cursor only the
// records whose write_date moved past it are fetched, and the max
// write_date observed comes back as the next cursor.
func (e *ERP) Extract(ctx context.Context, opts ExtractOptions) (map[SourceKind][]RawRecord, *time.Time, error) {
	if e.uid == 0 {
		if err := e.TestConnection(ctx); err != nil {
			return nil, nil, err
		}
	}

	out := map[SourceKind][]RawRecord{}
	var maxWrite time.Time
	for kind, m := range erpModels {
		if opts.Source != "" && opts.Source != kind {
			continue
		}
		domain := append([]any{}, m.domain...)
		if opts.LastSync != nil {
			domain = append(domain, []any{"write_date", ">", opts.LastSync.UTC().Format(erpWriteDateLayout)})
		}

		var records []map[string]any
		err := e.call(ctx, "object", "execute_kw", []any{
			e.database, e.uid, e.apiKey,
			m.model, "search_read",
			[]any{domain},
			map[string]any{"fields": m.fields},
		}, &records)
		if err != nil {
			return nil, nil, err
		}

		rows := make([]RawRecord, 0, len(records))
		for _, rec := range records {
			row := RawRecord{}
			for field, value := range rec {
				row[field] = erpString(value)
			}
			if wd, err := time.Parse(erpWriteDateLayout, row["write_date"]); err == nil && wd.After(maxWrite) {
				maxWrite = wd
			}
			rows = append(rows, row)
		}
		e.log.InfoContext(ctx, "extracted erp model", "model", m.model, "rows", len(rows))
		out[kind] = rows
	}

	var cursor *time.Time
	if !maxWrite.IsZero() {
		cursor = &maxWrite
	}
	return out, cursor, nil
}

// Transform renames ERP fields to canonical columns and maps each model
// onto its staging table.
func (e *ERP) Transform(raw map[SourceKind][]RawRecord) (map[string][]RawRecord, []string, error) {
	out := map[string][]RawRecord{}
	for kind, rows := range raw {
		table, ok := stagingTables[kind]
		if !ok {
			return nil, nil, fmt.Errorf("connector: unknown source kind %q", kind)
		}
		canonical := make([]RawRecord, 0, len(rows))
		for _, row := range rows {
			mapped := RawRecord{}
			for field, value := range row {
				if col, ok := erpColumns[field]; ok {
					mapped[col] = value
				}
			}
			canonical = append(canonical, mapped)
		}
		out[table] = canonical
	}
	return out, nil, nil
}

// erpString flattens a JSON-RPC value to its string form. The ERP
// returns false for null fields and [id, display_name] pairs for
// relations.
func erpString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		if !t {
			return ""
		}
		return "true"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		if len(t) == 2 {
			return erpString(t[1]) // relation: [id, name]
		}
		return ""
	default:
		return fmt.Sprint(t)
	}
}
