package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatforge/beatbridge/internal/config"
)

const graphqlPath = "/admin/api/" + apiVersion + "/graphql.json"

func testClient(t *testing.T, handler http.Handler) (*Client, *config.Config) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		StoreURL:    srv.URL,
		AccessToken: "test-token",
		ProductType: "Beat",
		Variants: []config.Variant{
			{Name: "Basic", Price: "29.99"},
			{Name: "Premium", Price: "99.99"},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(cfg, logger), cfg
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, body)
}

func TestDoSuccess(t *testing.T) {
	var gotToken atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc(graphqlPath, func(w http.ResponseWriter, r *http.Request) {
		gotToken.Store(r.Header.Get("X-Shopify-Access-Token"))
		writeJSON(w, `{"data":{"shop":{"name":"BeatForge"}}}`)
	})
	client, _ := testClient(t, mux)

	var out struct {
		Shop struct {
			Name string `json:"name"`
		} `json:"shop"`
	}
	err := client.Do(context.Background(), `query { shop { name } }`, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "BeatForge", out.Shop.Name)
	assert.Equal(t, "test-token", gotToken.Load())
}

func TestDoGraphQLErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(graphqlPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"errors":[{"message":"Field 'bogus' doesn't exist"}]}`)
	})
	client, _ := testClient(t, mux)

	err := client.Do(context.Background(), `query { bogus }`, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Field 'bogus' doesn't exist")
}

func TestDoRateLimitRetry(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc(graphqlPath, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, `{"data":{}}`)
	})
	client, _ := testClient(t, mux)

	err := client.Do(context.Background(), `query { shop { name } }`, nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestDoRefreshesTokenOnce(t *testing.T) {
	var oauthCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc(graphqlPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Shopify-Access-Token") != "fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, `{"data":{}}`)
	})
	mux.HandleFunc("/admin/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&oauthCalls, 1)
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "client_credentials", body["grant_type"])
		writeJSON(w, `{"access_token":"fresh-token"}`)
	})

	client, cfg := testClient(t, mux)
	cfg.AccessToken = "stale-token"
	cfg.ClientID = "client-id"
	cfg.ClientSecret = "client-secret"

	err := client.Do(context.Background(), `query { shop { name } }`, nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&oauthCalls))
	assert.Equal(t, "fresh-token", cfg.AccessToken)
}

func TestDoFailsOnSecondUnauthorized(t *testing.T) {
	var oauthCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc(graphqlPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/admin/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&oauthCalls, 1)
		writeJSON(w, `{"access_token":"fresh-token"}`)
	})

	client, cfg := testClient(t, mux)
	cfg.ClientID = "client-id"
	cfg.ClientSecret = "client-secret"

	err := client.Do(context.Background(), `query { shop { name } }`, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access token rejected")
	assert.EqualValues(t, 1, atomic.LoadInt32(&oauthCalls))
}

func TestDoUnauthorizedWithoutCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(graphqlPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client, _ := testClient(t, mux)

	err := client.Do(context.Background(), `query { shop { name } }`, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access token rejected")
}

func TestFindProductByTitle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(graphqlPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"data":{"products":{"edges":[
			{"node":{"id":"gid://shopify/Product/1","title":"Midnight Drive Remix"}},
			{"node":{"id":"gid://shopify/Product/2","title":"MIDNIGHT DRIVE"}}
		]}}}`)
	})
	client, _ := testClient(t, mux)

	id, found, err := client.FindProductByTitle(context.Background(), "Midnight Drive")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "gid://shopify/Product/2", id)

	_, found, err = client.FindProductByTitle(context.Background(), "Something Else")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCreateProductSurfacesUserErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(graphqlPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"data":{"productCreate":{"product":null,"userErrors":[
			{"field":["input","title"],"message":"has already been taken"}
		]}}}`)
	})
	client, _ := testClient(t, mux)

	_, err := client.CreateProduct(context.Background(), NewProduct{Title: "Dup"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input.title")
	assert.Contains(t, err.Error(), "has already been taken")
}

func TestMusicCategoryIDPicksLeafAndMemoizes(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc(graphqlPath, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, `{"data":{"taxonomy":{"categories":{"edges":[
			{"node":{"id":"gid://shopify/TaxonomyCategory/ae-2-1","name":"Digital Music Downloads","fullName":"Arts & Entertainment > Digital Music Downloads","isLeaf":false}},
			{"node":{"id":"gid://shopify/TaxonomyCategory/ae-2-1-5","name":"Beats","fullName":"Arts & Entertainment > Digital Music Downloads > Beats","isLeaf":true}}
		]}}}}`)
	})
	client, _ := testClient(t, mux)

	got := client.MusicCategoryID(context.Background())
	assert.Equal(t, "gid://shopify/TaxonomyCategory/ae-2-1-5", got)

	got = client.MusicCategoryID(context.Background())
	assert.Equal(t, "gid://shopify/TaxonomyCategory/ae-2-1-5", got)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestMusicCategoryIDFallsBackToConfig(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(graphqlPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"data":{"taxonomy":{"categories":{"edges":[]}}}}`)
	})
	client, cfg := testClient(t, mux)
	cfg.DefaultCategoryID = "gid://shopify/TaxonomyCategory/ae-2-1"

	assert.Equal(t, "gid://shopify/TaxonomyCategory/ae-2-1", client.MusicCategoryID(context.Background()))
}

func TestAddToCollectionRejectsBadID(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc(graphqlPath, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, `{"data":{}}`)
	})
	client, _ := testClient(t, mux)

	err := client.AddToCollection(context.Background(), "123456", "gid://shopify/Product/1")
	require.Error(t, err)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestValidateCollectionID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr string
	}{
		{id: ""},
		{id: "gid://shopify/Collection/123456"},
		{id: "123456", wantErr: "gid://shopify/Collection/123456"},
		{id: "gid://shopify/Product/5", wantErr: "not a valid collection GID"},
		{id: "gid://shopify/Collection/abc", wantErr: "not a valid collection GID"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateCollectionID(tt.id)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", defaultThrottleWait},
		{"0", 0},
		{"1.5", 1500 * time.Millisecond},
		{" 3 ", 3 * time.Second},
		{"120", time.Minute},
		{"abc", defaultThrottleWait},
		{"-1", defaultThrottleWait},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, retryAfter(tt.header), "header %q", tt.header)
	}
}

func TestParseCreationDate(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"Mar 2, 2024", "2024-03-02", true},
		{"Jun 15 2023", "2023-06-15", true},
		{"January 8, 2025", "2025-01-08", true},
		{"December 31 2022", "2022-12-31", true},
		{"", "", false},
		{"   ", "", false},
		{"N/A", "", false},
		{"2024-03-02", "", false},
	}

	for _, tt := range tests {
		got, ok := parseCreationDate(tt.raw)
		assert.Equal(t, tt.ok, ok, "raw %q", tt.raw)
		assert.Equal(t, tt.want, got, "raw %q", tt.raw)
	}
}

func TestIsDigits(t *testing.T) {
	assert.True(t, isDigits("142"))
	assert.True(t, isDigits("007"))
	assert.False(t, isDigits(""))
	assert.False(t, isDigits("90bpm"))
	assert.False(t, isDigits("N/A"))
}

func TestBuildMetafields(t *testing.T) {
	fields := buildMetafields(NewProduct{
		Title:        "Midnight Drive",
		BPM:          "142",
		Duration:     "3:05",
		Tags:         []string{"trap", "drill"},
		CreationDate: "Mar 2, 2024",
	})
	require.Len(t, fields, 4)

	byKey := map[string]map[string]string{}
	for _, f := range fields {
		byKey[f["key"]] = f
	}
	assert.Equal(t, "142", byKey["bpm"]["value"])
	assert.Equal(t, "number_integer", byKey["bpm"]["type"])
	assert.Equal(t, `["trap","drill"]`, byKey["tags"]["value"])
	assert.Equal(t, "2024-03-02", byKey["creation_date"]["value"])
	assert.Equal(t, "3:05", byKey["duration"]["value"])

	assert.Empty(t, buildMetafields(NewProduct{BPM: "N/A"}))
}

func TestMatchVariant(t *testing.T) {
	created := []createdVariant{
		{
			ID:              "gid://shopify/ProductVariant/1",
			Title:           "Basic Licence",
			SelectedOptions: []variantOption{{Name: "Licence", Value: "Basic"}},
		},
		{ID: "gid://shopify/ProductVariant/2", Title: "Premium"},
	}

	assert.Equal(t, "gid://shopify/ProductVariant/1", matchVariant(created, "basic"))
	assert.Equal(t, "gid://shopify/ProductVariant/2", matchVariant(created, "Premium Licence"))
	assert.Equal(t, "", matchVariant(created, "Exclusive"))
}

func TestEscapeQueryValue(t *testing.T) {
	assert.Equal(t, `Don\'t Stop`, escapeQueryValue(`Don't Stop`))
	assert.Equal(t, `a\\b`, escapeQueryValue(`a\b`))
	assert.Equal(t, `plain`, escapeQueryValue(`plain`))
}

func TestUserErrorsToError(t *testing.T) {
	assert.NoError(t, userErrorsToError("op", nil))

	err := userErrorsToError("productCreate", []UserError{
		{Field: []string{"input", "title"}, Message: "taken"},
		{Message: "too many variants"},
	})
	require.Error(t, err)
	assert.Equal(t, "productCreate rejected: input.title: taken; too many variants", err.Error())
}

func TestMimeTypeFor(t *testing.T) {
	assert.Equal(t, "audio/mpeg", mimeTypeFor("beat.mp3"))
	assert.Equal(t, "image/jpeg", mimeTypeFor("ART.JPG"))
	assert.Equal(t, "application/zip", mimeTypeFor("stems.zip"))
	assert.Equal(t, "application/octet-stream", mimeTypeFor("mystery.xyz"))
	assert.Equal(t, "application/octet-stream", mimeTypeFor("noext"))
}
