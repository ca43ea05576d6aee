package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lineage/lineage/autobase"
	"github.com/lineage/lineage/httpapi"
	"github.com/lineage/lineage/storage"
	"github.com/lineage/lineage/view"
)

func testServer(t *testing.T) (*mux.Router, *autobase.Autobase) {
	dir := t.TempDir()
	store, err := storage.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	const localKey = "local-writer"
	base, err := autobase.Open(store, autobase.Options{
		LocalKey:  localKey,
		Bootstrap: []string{localKey},
		Open: func(s *view.Store, b *autobase.Autobase) (any, error) {
			return s.Get("log", view.Options{})
		},
		Apply: func(batch []autobase.BatchItem, userView any, b *autobase.Autobase) error {
			v := userView.(*view.View)
			for _, item := range batch {
				if err := v.Append(item.Value); err != nil {
					return err
				}
			}
			return nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { base.Close() })

	router := mux.NewRouter()
	handler := httpapi.NewHandler(base, zap.NewNop())
	httpapi.RegisterRoutes(router, handler)
	return router, base
}

func TestAppend_Success(t *testing.T) {
	router, _ := testServer(t)

	body, _ := json.Marshal(map[string]string{"value": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/append", bytes.NewReader(body))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusCreated, res.Code)
}

func TestAppend_BatchReturnsLengths(t *testing.T) {
	router, _ := testServer(t)

	body, _ := json.Marshal(map[string][]string{"values": {"a", "b", "c"}})
	req := httptest.NewRequest(http.MethodPost, "/append", bytes.NewReader(body))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusCreated, res.Code)

	var decoded struct {
		Lengths []int `json:"lengths"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &decoded))
	require.Equal(t, []int{1, 2, 3}, decoded.Lengths)
}

func TestWritable(t *testing.T) {
	router, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/writable", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)

	var decoded map[string]bool
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &decoded))
	require.True(t, decoded["writable"])
}

func TestCheckpoint_NoneYet(t *testing.T) {
	router, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/checkpoint", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestViewBlocks_ReturnsIndexedContent(t *testing.T) {
	router, _ := testServer(t)

	body, _ := json.Marshal(map[string]string{"value": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/append", bytes.NewReader(body))
	router.ServeHTTP(httptest.NewRecorder(), req)

	updBody, _ := json.Marshal(map[string]bool{"wait": true})
	updReq := httptest.NewRequest(http.MethodPost, "/update", bytes.NewReader(updBody))
	router.ServeHTTP(httptest.NewRecorder(), updReq)

	req = httptest.NewRequest(http.MethodGet, "/views/log", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)

	var decoded struct {
		Blocks []string `json:"blocks"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &decoded))
	require.Equal(t, []string{"hello"}, decoded.Blocks)
}

func TestViewBlocks_UnknownName(t *testing.T) {
	router, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/views/nope", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestUpdate_ReturnsLength(t *testing.T) {
	router, _ := testServer(t)

	body, _ := json.Marshal(map[string]string{"value": "x"})
	req := httptest.NewRequest(http.MethodPost, "/append", bytes.NewReader(body))
	router.ServeHTTP(httptest.NewRecorder(), req)

	updBody, _ := json.Marshal(map[string]bool{"wait": true})
	updReq := httptest.NewRequest(http.MethodPost, "/update", bytes.NewReader(updBody))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, updReq)

	require.Equal(t, http.StatusOK, res.Code)
}
