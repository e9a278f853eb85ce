// ABOUTME: Built-in weather forecast tool
// ABOUTME: Produces a deterministic forecast for a location; no external weather service is called

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
)

// WeatherToolName is the function name the assistant definition must declare.
const WeatherToolName = "get_weather_forecast"

var weatherConditions = []string{"sunny", "partly cloudy", "overcast", "light rain", "thunderstorms", "snow showers", "windy", "foggy"}

type weatherForecastInput struct {
	Location string `json:"location"`
}

type weatherForecast struct {
	Location     string `json:"location"`
	TemperatureC int    `json:"temperature_c"`
	Conditions   string `json:"conditions"`
}

// WeatherForecastTool returns the built-in location-to-forecast tool.
func WeatherForecastTool() *Tool {
	return &Tool{
		Name:        WeatherToolName,
		Description: "Get the weather forecast for a location",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"location":{"type":"string","description":"City and country, e.g. Oslo, Norway"}},"required":["location"]}`),
		Handler:     weatherForecastHandler,
	}
}

func weatherForecastHandler(ctx context.Context, args json.RawMessage) (string, error) {
	var in weatherForecastInput
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	location := strings.TrimSpace(in.Location)
	if location == "" {
		return "", fmt.Errorf("location is required")
	}

	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(location)))
	sum := h.Sum32()

	out, err := json.Marshal(weatherForecast{
		Location:     location,
		TemperatureC: int(sum%45) - 10,
		Conditions:   weatherConditions[(sum/45)%uint32(len(weatherConditions))],
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// RegisterBuiltins adds every built-in tool to r.
func RegisterBuiltins(r *Registry) error {
	for _, tool := range []*Tool{WeatherForecastTool()} {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
