// ABOUTME: Tests for the tool registry and the built-in weather tool
// ABOUTME: Covers registration collisions, unknown tools, and argument decode failures

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name: name,
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(echoTool("b")))
	require.NoError(t, r.Register(echoTool("a")))

	tool, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "a", tool.Name)

	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestRegistry_RegisterCollision(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(echoTool("dup")))

	err := r.Register(echoTool("dup"))
	assert.ErrorIs(t, err, ErrToolExists)
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	r := NewRegistry(nil)
	assert.Error(t, r.Register(&Tool{Name: "no-handler"}))
	assert.Error(t, r.Register(nil))
}

func TestRegistry_ExecuteUnknown(t *testing.T) {
	r := NewRegistry(nil)
	out, ok := r.Execute(context.Background(), "missing", `{}`)
	assert.False(t, ok)
	assert.Empty(t, out)
}

func TestRegistry_ExecuteHandlerErrorYieldsEmptyOutput(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&Tool{
		Name: "broken",
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "partial", errors.New("boom")
		},
	}))

	out, ok := r.Execute(context.Background(), "broken", `{}`)
	assert.True(t, ok)
	assert.Empty(t, out)
}

func TestRegistry_ExecuteEmptyArguments(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(echoTool("echo")))

	out, ok := r.Execute(context.Background(), "echo", "")
	assert.True(t, ok)
	assert.Equal(t, "{}", out)
}

func TestWeatherForecast(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, RegisterBuiltins(r))

	out, ok := r.Execute(context.Background(), WeatherToolName, `{"location":"Oslo, Norway"}`)
	require.True(t, ok)

	var forecast weatherForecast
	require.NoError(t, json.Unmarshal([]byte(out), &forecast))
	assert.Equal(t, "Oslo, Norway", forecast.Location)
	assert.NotEmpty(t, forecast.Conditions)
	assert.GreaterOrEqual(t, forecast.TemperatureC, -10)
	assert.Less(t, forecast.TemperatureC, 35)

	again, _ := r.Execute(context.Background(), WeatherToolName, `{"location":"oslo, norway"}`)
	var second weatherForecast
	require.NoError(t, json.Unmarshal([]byte(again), &second))
	assert.Equal(t, forecast.TemperatureC, second.TemperatureC)
	assert.Equal(t, forecast.Conditions, second.Conditions)
}

func TestWeatherForecast_BadArguments(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, RegisterBuiltins(r))

	for _, args := range []string{`not json`, `{"location":""}`, `{"location":42}`} {
		out, ok := r.Execute(context.Background(), WeatherToolName, args)
		assert.True(t, ok, args)
		assert.Empty(t, out, args)
	}
}

func TestRegisterBuiltins_Twice(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, RegisterBuiltins(r))
	assert.ErrorIs(t, RegisterBuiltins(r), ErrToolExists)
}

func TestRegistry_Definitions(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(echoTool("zeta")))
	require.NoError(t, RegisterBuiltins(r))

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "get_weather_forecast", defs[0].Function.Name)
	assert.Equal(t, "zeta", defs[1].Function.Name)

	weather := defs[0]
	assert.Equal(t, "function", weather.Type)
	assert.NotEmpty(t, weather.Function.Description)

	var schema struct {
		Type     string   `json:"type"`
		Required []string `json:"required"`
	}
	require.NoError(t, json.Unmarshal(weather.Function.Parameters, &schema))
	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, []string{"location"}, schema.Required)

	raw, err := json.Marshal(defs[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"function","function":{"name":"zeta"}}`, string(raw))
}
