package shopify

import (
	"context"
	"strings"
)

const taxonomyQuery = `query musicCategory {
  taxonomy {
    categories(first: 250, search: "Music") {
      edges {
        node {
          id
          name
          fullName
          isLeaf
        }
      }
    }
  }
}`

// MusicCategoryID resolves the taxonomy category new products are filed
// under: the "Digital Music Downloads" leaf when the taxonomy has one, the
// configured default_category_id otherwise. The result is memoized; an empty
// string means products are created without a category.
func (c *Client) MusicCategoryID(ctx context.Context) string {
	if c.categoryResolved {
		return c.categoryID
	}

	var out struct {
		Taxonomy struct {
			Categories struct {
				Edges []struct {
					Node struct {
						ID       string `json:"id"`
						Name     string `json:"name"`
						FullName string `json:"fullName"`
						IsLeaf   bool   `json:"isLeaf"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"categories"`
		} `json:"taxonomy"`
	}

	if err := c.Do(ctx, taxonomyQuery, nil, &out); err != nil {
		c.logger.Warn("taxonomy lookup failed, falling back to configured category", "error", err)
	} else {
		for _, edge := range out.Taxonomy.Categories.Edges {
			if edge.Node.IsLeaf && strings.Contains(edge.Node.FullName, "Digital Music Downloads") {
				c.categoryID = edge.Node.ID
				c.categoryResolved = true
				c.logger.Info("taxonomy category resolved", "category", edge.Node.FullName, "id", edge.Node.ID)
				return c.categoryID
			}
		}
	}

	c.categoryID = c.cfg.DefaultCategoryID
	c.categoryResolved = true
	return c.categoryID
}
