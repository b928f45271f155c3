package httperr

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteSerializesShape(t *testing.T) {
	res := httptest.NewRecorder()
	Validation("query invalid", map[string]string{"tenant": "required"}).Write(res)

	require.Equal(t, 400, res.Code)
	require.Equal(t, "application/json; charset=utf-8", res.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Equal(t, "validation_failure", body["kind"])
	require.Equal(t, "VALIDATION_FAILED", body["code"])
	require.Equal(t, "query invalid", body["message"])
	detail, ok := body["detail"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "required", detail["tenant"])
}

func TestInternalHidesDetailInProduction(t *testing.T) {
	cause := errors.New("boom")
	require.Nil(t, Internal(cause, true).Detail)

	dev := Internal(cause, false)
	require.NotNil(t, dev.Detail)
	detail, ok := dev.Detail.(map[string]string)
	require.True(t, ok)
	require.Equal(t, "boom", detail["cause"])
	require.NotEmpty(t, detail["stack"])
}

func TestFromPanic(t *testing.T) {
	e := FromPanic("kaboom", true)
	require.Equal(t, 500, e.Status)
	require.Equal(t, KindInternal, e.Kind)
	require.Nil(t, e.Detail)
}

func TestErrorString(t *testing.T) {
	require.Equal(t, "nope (404 NOT_FOUND)", NotFound("nope").Error())
}
