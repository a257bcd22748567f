package commerce

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Attribute is a typed key-value record attached to a customer.
// An empty ID means the record does not exist yet.
type Attribute struct {
	ID        string
	Namespace string
	Key       string
	Value     string
	Type      string
}

// ID accepts both numeric and string identifiers from the backend.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// flexString decodes a value the backend may send as a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(bytes.TrimSpace(b))
	return nil
}

// idValue sends numeric ids as JSON numbers.
func idValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

type attributeWire struct {
	ID        ID         `json:"id"`
	Namespace string     `json:"namespace"`
	Key       string     `json:"key"`
	Value     flexString `json:"value"`
	Type      string     `json:"type"`
}

type attributeListResponse struct {
	Metafields []attributeWire `json:"metafields"`
}

type attributeRequest struct {
	Metafield attributeBody `json:"metafield"`
}

type attributeBody struct {
	ID        any    `json:"id,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Key       string `json:"key,omitempty"`
	Value     string `json:"value"`
	Type      string `json:"type"`
}

type orderRequest struct {
	Order orderBody `json:"order"`
}

type orderBody struct {
	Customer        map[string]any `json:"customer"`
	LineItems       []lineItem     `json:"line_items"`
	FinancialStatus string         `json:"financial_status"`
	Tags            string         `json:"tags"`
	Note            string         `json:"note,omitempty"`
}

type lineItem struct {
	VariantID any    `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

type orderResponse struct {
	Order struct {
		ID ID `json:"id"`
	} `json:"order"`
}
