package lookup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureResponse = `{
	"vrm": "AB12CDE",
	"make": "Ford",
	"model": "Focus",
	"year": 2019,
	"tyres": [
		{
			"front": {"size": "205/55R16", "runflat": false, "pressure_psi": 32},
			"rear": {"size": "205/55R16", "runflat": false, "pressure_psi": 30}
		}
	],
	"torque": "110 Nm"
}`

func TestClient_FetchVehicle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/vehicles/AB12CDE", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fixtureResponse))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret")
	v, err := client.FetchVehicle(context.Background(), "ab12 cde")
	require.NoError(t, err)

	assert.Equal(t, "AB12CDE", v.VRM)
	assert.Equal(t, "Ford", v.Make)
	assert.Equal(t, 2019, v.Year)
	require.Len(t, v.TyreRecords, 1)
	assert.Equal(t, "205/55R16", v.TyreRecords[0].Front.Size)
	assert.Equal(t, 32, v.TyreRecords[0].Front.PressurePSI)
}

func TestClient_FetchVehicleNotFound(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	_, err := client.FetchVehicle(context.Background(), "XY99ZZZ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vehicle lookup failed")
	assert.Equal(t, int32(1), hits.Load(), "404 must not be retried")
}

func TestClient_FetchVehicleRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fixtureResponse))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", WithRetries(3))
	v, err := client.FetchVehicle(context.Background(), "AB12CDE")
	require.NoError(t, err)
	assert.Equal(t, "Ford", v.Make)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_FetchVehicleInvalidMark(t *testing.T) {
	client := NewClient("http://unreachable.invalid", "")
	_, err := client.FetchVehicle(context.Background(), "!!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid registration mark")
}

func TestClient_FetchVehicleMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	_, err := client.FetchVehicle(context.Background(), "AB12CDE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed provider response")
}
