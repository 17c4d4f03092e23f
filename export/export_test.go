package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcelasticsearch "github.com/testcontainers/testcontainers-go/modules/elasticsearch"

	"github.com/pteich/elastic-search-reader/config"
	"github.com/pteich/elastic-search-reader/reader"
	"github.com/pteich/elastic-search-reader/writer"
)

func TestRunStreamsAllRecords(t *testing.T) {
	var scrollCalls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == "/movies/_search":
			io.WriteString(w, `{"_scroll_id":"a","hits":{"total":{"value":3},"hits":[
				{"_index":"movies","_id":"1","_source":{"year":1980}},
				{"_index":"movies","_id":"2","_source":{"year":1981}}]}}`)
		case r.URL.Path == "/_search/scroll" && r.Method == http.MethodDelete:
			io.WriteString(w, `{"succeeded":true,"num_freed":1}`)
		case r.URL.Path == "/_search/scroll":
			scrollCalls++
			if scrollCalls == 1 {
				io.WriteString(w, `{"_scroll_id":"a","hits":{"total":{"value":3},"hits":[
					{"_index":"movies","_id":"3","_source":{"year":1982}}]}}`)
				return
			}
			io.WriteString(w, `{"_scroll_id":"a","hits":{"total":{"value":3},"hits":[]}}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	creds := &config.Credentials{Host: "http://" + u.Hostname(), Port: port}

	cfg := &config.Config{
		Syntax:    config.SyntaxDSL,
		Paginator: config.PaginatorScroll,
		Index:     []string{"movies"},
		Size:      2,
		Query:     map[string]interface{}{"match_all": map[string]interface{}{}},
	}

	r, err := reader.NewFromConfig(cfg, creds)
	require.NoError(t, err)

	root := t.TempDir()
	w, err := writer.New(context.Background(), root, "movies", writer.DestLocalJSON, writer.Settings{})
	require.NoError(t, err)

	// a single worker keeps the output order deterministic
	require.NoError(t, Run(context.Background(), r, w, Options{Workers: 1}))

	years := readYears(t, filepath.Join(root, "movies.json"))
	assert.Equal(t, []float64{1980, 1981, 1982}, years)
}

func readYears(t *testing.T, path string) []float64 {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var years []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		years = append(years, record["year"].(float64))
	}
	require.NoError(t, scanner.Err())

	return years
}

func TestExportE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	ctx := context.Background()

	esContainer, err := tcelasticsearch.Run(ctx, "docker.elastic.co/elasticsearch/elasticsearch:8.17.0",
		testcontainers.CustomizeRequest(testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Env: map[string]string{
					"discovery.type":         "single-node",
					"xpack.security.enabled": "false",
				},
			},
		}),
	)
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
	}
	defer func() {
		if err := esContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	endpoint := esContainer.Settings.Address
	seedData(t, endpoint)

	u, err := url.Parse(endpoint)
	require.NoError(t, err)

	dir := t.TempDir()

	credsPath := filepath.Join(dir, "secrets.yml")
	require.NoError(t, os.WriteFile(credsPath, []byte(fmt.Sprintf(
		"host: %s://%s\nport: %s\nusername: elastic\npassword: changeme\n",
		u.Scheme, u.Hostname(), u.Port())), 0o644))

	configPath := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
syntax: dsl
paginator: scroll
index:
  - test-index
size: 100
query:
  match_all: {}
`), 0o644))

	r, err := reader.New(credsPath, configPath)
	require.NoError(t, err)

	root := t.TempDir()
	w, err := writer.New(ctx, root, "test-index", writer.DestLocalJSON, writer.Settings{})
	require.NoError(t, err)

	require.NoError(t, Run(ctx, r, w, Options{}))

	data, err := os.ReadFile(filepath.Join(root, "test-index.json"))
	require.NoError(t, err)

	lines := bytes.Count(data, []byte("\n"))
	assert.Equal(t, 3, lines)
}

func seedData(t *testing.T, endpoint string) {
	t.Helper()

	for i := 1; i <= 3; i++ {
		doc := fmt.Sprintf(`{"@timestamp": "2023-01-01T00:00:0%dZ", "message": "test message %d", "id": %d}`, i, i, i)
		indexDoc(t, endpoint, "test-index", fmt.Sprintf("%d", i), doc)
	}

	refreshIndex(t, endpoint, "test-index")
}

func indexDoc(t *testing.T, url, index, id, body string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/%s/_doc/%s", url, index, id), bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Less(t, resp.StatusCode, 400, "failed to index doc")
}

func refreshIndex(t *testing.T, url, index string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/%s/_refresh", url, index), nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
}
