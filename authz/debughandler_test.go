package authz_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebugHandler(t *testing.T) {
	az := fixture(t, rules()...)

	rec := httptest.NewRecorder()
	az.DebugHandler(rec, httptest.NewRequest(http.MethodGet, "/debug/authz", nil))

	body := rec.Body.String()
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "  doc\n")
	assert.Contains(t, body, "├── global")
	assert.Contains(t, body, "└── object")
	assert.Contains(t, body, "retrieve        [view]")
	assert.Contains(t, body, "/docs.Docs/Update  update doc")
}
