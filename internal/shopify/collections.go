package shopify

import (
	"context"
	"fmt"
	"regexp"
)

var collectionGIDPattern = regexp.MustCompile(`^gid://shopify/Collection/\d+$`)

var digitsOnlyPattern = regexp.MustCompile(`^\d+$`)

// ValidateCollectionID checks that the configured collection ID is a full
// Admin API GID. A bare numeric ID gets an error that spells out the
// expected form, since that is the value the admin UI shows.
func ValidateCollectionID(id string) error {
	if id == "" {
		return nil
	}
	if collectionGIDPattern.MatchString(id) {
		return nil
	}
	if digitsOnlyPattern.MatchString(id) {
		return fmt.Errorf("collection ID %q is numeric; use the full form gid://shopify/Collection/%s", id, id)
	}
	return fmt.Errorf("collection ID %q is not a valid collection GID (expected gid://shopify/Collection/<id>)", id)
}

const collectionAddProductsMutation = `mutation collectionAddProducts($id: ID!, $productIds: [ID!]!) {
  collectionAddProducts(id: $id, productIds: $productIds) {
    collection { id }
    userErrors { field message }
  }
}`

// AddToCollection adds the product to the configured collection.
func (c *Client) AddToCollection(ctx context.Context, collectionID, productID string) error {
	if err := ValidateCollectionID(collectionID); err != nil {
		return err
	}

	var out struct {
		CollectionAddProducts struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"collectionAddProducts"`
	}
	vars := map[string]any{
		"id":         collectionID,
		"productIds": []string{productID},
	}
	if err := c.Do(ctx, collectionAddProductsMutation, vars, &out); err != nil {
		return err
	}
	if err := userErrorsToError("collectionAddProducts", out.CollectionAddProducts.UserErrors); err != nil {
		return err
	}

	c.logger.Info("product added to collection", "collection", collectionID)
	return nil
}
