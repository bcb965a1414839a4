package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// licenceOptionName is the product option the licensing tiers hang off.
const licenceOptionName = "Licence"

const metafieldNamespace = "custom"

// NewProduct carries the beat metadata a product is created from.
type NewProduct struct {
	Title        string
	Tags         []string
	BPM          string
	Duration     string
	CreationDate string
}

const productSearchQuery = `query findProduct($query: String!) {
  products(first: 10, query: $query) {
    edges { node { id title } }
  }
}`

// FindProductByTitle looks for an existing product with exactly this title.
// The search is the idempotency check before creation, so only an exact
// (case-insensitive) title match counts.
func (c *Client) FindProductByTitle(ctx context.Context, title string) (string, bool, error) {
	var out struct {
		Products struct {
			Edges []struct {
				Node struct {
					ID    string `json:"id"`
					Title string `json:"title"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"products"`
	}

	vars := map[string]any{"query": fmt.Sprintf("title:'%s'", escapeQueryValue(title))}
	if err := c.Do(ctx, productSearchQuery, vars, &out); err != nil {
		return "", false, err
	}

	for _, edge := range out.Products.Edges {
		if strings.EqualFold(edge.Node.Title, title) {
			return edge.Node.ID, true, nil
		}
	}
	return "", false, nil
}

func escapeQueryValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

const productCreateMutation = `mutation productCreate($input: ProductInput!) {
  productCreate(input: $input) {
    product { id title }
    userErrors { field message }
  }
}`

// CreateProduct creates an active product carrying the beat's metafields and
// a Licence option whose values are the configured variant tiers.
func (c *Client) CreateProduct(ctx context.Context, p NewProduct) (string, error) {
	optionValues := make([]map[string]string, 0, len(c.cfg.Variants))
	for _, v := range c.cfg.Variants {
		optionValues = append(optionValues, map[string]string{"name": v.Name})
	}

	input := map[string]any{
		"title":       p.Title,
		"productType": c.cfg.ProductType,
		"status":      "ACTIVE",
		"productOptions": []map[string]any{{
			"name":   licenceOptionName,
			"values": optionValues,
		}},
	}
	if len(p.Tags) > 0 {
		input["tags"] = p.Tags
	}
	if category := c.MusicCategoryID(ctx); category != "" {
		input["category"] = category
	}
	if metafields := buildMetafields(p); len(metafields) > 0 {
		input["metafields"] = metafields
	}

	var out struct {
		ProductCreate struct {
			Product struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"product"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"productCreate"`
	}

	if err := c.Do(ctx, productCreateMutation, map[string]any{"input": input}, &out); err != nil {
		return "", err
	}
	if err := userErrorsToError("productCreate", out.ProductCreate.UserErrors); err != nil {
		return "", err
	}
	if out.ProductCreate.Product.ID == "" {
		return "", fmt.Errorf("productCreate returned no product")
	}

	c.logger.Info("product created", "title", p.Title, "id", out.ProductCreate.Product.ID)
	return out.ProductCreate.Product.ID, nil
}

// buildMetafields assembles the custom namespace metafields. Unusable values
// are omitted rather than rejected: a BPM with stray characters or an
// unparseable date must never block the product.
func buildMetafields(p NewProduct) []map[string]string {
	var fields []map[string]string

	if isDigits(p.BPM) {
		fields = append(fields, metafield("bpm", "number_integer", p.BPM))
	}
	if p.Duration != "" {
		fields = append(fields, metafield("duration", "single_line_text_field", p.Duration))
	}
	if len(p.Tags) > 0 {
		if value, err := json.Marshal(p.Tags); err == nil {
			fields = append(fields, metafield("tags", "list.single_line_text_field", string(value)))
		}
	}
	if date, ok := parseCreationDate(p.CreationDate); ok {
		fields = append(fields, metafield("creation_date", "date", date))
	}

	return fields
}

func metafield(key, fieldType, value string) map[string]string {
	return map[string]string{
		"namespace": metafieldNamespace,
		"key":       key,
		"type":      fieldType,
		"value":     value,
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var creationDateLayouts = []string{
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
}

// parseCreationDate converts the dashboard's month-name date into the
// YYYY-MM-DD form a date metafield requires.
func parseCreationDate(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	for _, layout := range creationDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

const variantsBulkCreateMutation = `mutation productVariantsBulkCreate($productId: ID!, $strategy: ProductVariantsBulkCreateStrategy, $variants: [ProductVariantsBulkInput!]!) {
  productVariantsBulkCreate(productId: $productId, strategy: $strategy, variants: $variants) {
    productVariants {
      id
      title
      selectedOptions { name value }
    }
    userErrors { field message }
  }
}`

type variantOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type createdVariant struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	SelectedOptions []variantOption `json:"selectedOptions"`
}

// ReplaceVariants creates one variant per configured tier, removing the
// placeholder standalone variant productCreate left behind. It returns the
// variant ID for each tier name it could match back.
func (c *Client) ReplaceVariants(ctx context.Context, productID string) (map[string]string, error) {
	variants := make([]map[string]any, 0, len(c.cfg.Variants))
	for _, v := range c.cfg.Variants {
		variants = append(variants, map[string]any{
			"price": v.Price,
			"optionValues": []map[string]string{{
				"optionName": licenceOptionName,
				"name":       v.Name,
			}},
		})
	}

	var out struct {
		ProductVariantsBulkCreate struct {
			ProductVariants []createdVariant `json:"productVariants"`
			UserErrors      []UserError      `json:"userErrors"`
		} `json:"productVariantsBulkCreate"`
	}

	vars := map[string]any{
		"productId": productID,
		"strategy":  "REMOVE_STANDALONE_VARIANT",
		"variants":  variants,
	}
	if err := c.Do(ctx, variantsBulkCreateMutation, vars, &out); err != nil {
		return nil, err
	}
	if err := userErrorsToError("productVariantsBulkCreate", out.ProductVariantsBulkCreate.UserErrors); err != nil {
		return nil, err
	}

	created := out.ProductVariantsBulkCreate.ProductVariants
	ids := make(map[string]string, len(c.cfg.Variants))
	for _, v := range c.cfg.Variants {
		id := matchVariant(created, v.Name)
		if id == "" {
			c.logger.Warn("created variant not found in response", "variant", v.Name)
			continue
		}
		ids[v.Name] = id
	}

	c.logger.Info("variants created", "count", len(created))
	return ids, nil
}

// matchVariant pairs a configured tier name with the created variant: first
// by its Licence option value, then by substring match on the variant title
// in either direction.
func matchVariant(created []createdVariant, name string) string {
	for _, v := range created {
		for _, opt := range v.SelectedOptions {
			if opt.Name == licenceOptionName && strings.EqualFold(opt.Value, name) {
				return v.ID
			}
		}
	}

	lower := strings.ToLower(name)
	for _, v := range created {
		title := strings.ToLower(v.Title)
		if title != "" && (strings.Contains(title, lower) || strings.Contains(lower, title)) {
			return v.ID
		}
	}
	return ""
}

const metafieldDefinitionCreateMutation = `mutation metafieldDefinitionCreate($definition: MetafieldDefinitionInput!) {
  metafieldDefinitionCreate(definition: $definition) {
    createdDefinition { id }
    userErrors { field message code }
  }
}`

var metafieldDefinitions = []struct {
	Key  string
	Name string
	Type string
}{
	{Key: "bpm", Name: "BPM", Type: "number_integer"},
	{Key: "duration", Name: "Duration", Type: "single_line_text_field"},
	{Key: "tags", Name: "Tags", Type: "list.single_line_text_field"},
	{Key: "creation_date", Name: "Creation Date", Type: "date"},
	{Key: "audio_preview", Name: "Audio Preview", Type: "file_reference"},
}

// EnsureMetafieldDefinitions registers the custom namespace definitions so
// the metafields show up as named columns in the admin. Already-existing
// definitions (code TAKEN) are fine; other rejections are logged and
// skipped, never fatal.
func (c *Client) EnsureMetafieldDefinitions(ctx context.Context) error {
	for _, def := range metafieldDefinitions {
		var out struct {
			MetafieldDefinitionCreate struct {
				CreatedDefinition struct {
					ID string `json:"id"`
				} `json:"createdDefinition"`
				UserErrors []UserError `json:"userErrors"`
			} `json:"metafieldDefinitionCreate"`
		}

		vars := map[string]any{
			"definition": map[string]any{
				"namespace": metafieldNamespace,
				"key":       def.Key,
				"name":      def.Name,
				"type":      def.Type,
				"ownerType": "PRODUCT",
			},
		}
		if err := c.Do(ctx, metafieldDefinitionCreateMutation, vars, &out); err != nil {
			return err
		}

		for _, ue := range out.MetafieldDefinitionCreate.UserErrors {
			if ue.Code == "TAKEN" {
				continue
			}
			c.logger.Warn("metafield definition rejected", "key", def.Key, "error", ue.Message)
		}
	}
	return nil
}
