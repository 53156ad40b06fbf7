package cdse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var errNoValue = errors.New("missing value array")

// Product is a catalogue entry.
type Product struct {
	ID            string `json:"Id"`
	Name          string `json:"Name"`
	ContentLength int64  `json:"ContentLength"`
	Online        bool   `json:"Online"`
	ContentDate   struct {
		Start string `json:"Start"`
		End   string `json:"End"`
	} `json:"ContentDate"`
}

type productPage struct {
	Value    *[]Product `json:"value"`
	NextLink string     `json:"@odata.nextLink"`
}

// ParseProducts decodes one page of an OData product search and returns the
// products with the link to the next page, if any.
func ParseProducts(r io.Reader) ([]Product, string, error) {
	var page productPage
	if err := json.NewDecoder(r).Decode(&page); err != nil {
		return nil, "", fmt.Errorf("decoding response: %w", err)
	}
	if page.Value == nil {
		return nil, "", errNoValue
	}
	return *page.Value, page.NextLink, nil
}
