package shopify

import "context"

const publicationsQuery = `query publications {
  publications(first: 20) {
    edges {
      node { id name }
    }
  }
}`

// Publication is a sales channel the store publishes products to.
type Publication struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Publications lists the store's sales channels.
func (c *Client) Publications(ctx context.Context) ([]Publication, error) {
	var out struct {
		Publications struct {
			Edges []struct {
				Node Publication `json:"node"`
			} `json:"edges"`
		} `json:"publications"`
	}
	if err := c.Do(ctx, publicationsQuery, nil, &out); err != nil {
		return nil, err
	}

	pubs := make([]Publication, 0, len(out.Publications.Edges))
	for _, e := range out.Publications.Edges {
		pubs = append(pubs, e.Node)
	}
	return pubs, nil
}

const publishablePublishMutation = `mutation publishablePublish($id: ID!, $input: [PublicationInput!]!) {
  publishablePublish(id: $id, input: $input) {
    userErrors { field message }
  }
}`

// PublishEverywhere publishes the product to all of the store's sales
// channels. Failures are logged and swallowed; the product exists either
// way and can be published from the admin UI.
func (c *Client) PublishEverywhere(ctx context.Context, productID string) {
	pubs, err := c.Publications(ctx)
	if err != nil {
		c.logger.Warn("failed to list publications", "error", err)
		return
	}
	if len(pubs) == 0 {
		return
	}

	input := make([]map[string]any, 0, len(pubs))
	for _, p := range pubs {
		input = append(input, map[string]any{"publicationId": p.ID})
	}

	var out struct {
		PublishablePublish struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"publishablePublish"`
	}
	vars := map[string]any{"id": productID, "input": input}
	if err := c.Do(ctx, publishablePublishMutation, vars, &out); err != nil {
		c.logger.Warn("failed to publish product", "error", err)
		return
	}
	if err := userErrorsToError("publishablePublish", out.PublishablePublish.UserErrors); err != nil {
		c.logger.Warn("failed to publish product", "error", err)
		return
	}

	c.logger.Info("product published", "channels", len(pubs))
}
