package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/NERVsystems/osmstore/pkg/core"
	"github.com/NERVsystems/osmstore/pkg/entity"
	"github.com/NERVsystems/osmstore/pkg/osm"
)

// Flag defaults can be overridden from the environment (or a .env file)
// with OSMSTORE_<FLAG>, dashes replaced by underscores.
const envPrefix = "OSMSTORE_"

func envKey(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func envString(name, def string) string {
	if v, ok := os.LookupEnv(envKey(name)); ok {
		return v
	}
	return def
}

func envBool(name string, def bool) bool {
	if v, ok := os.LookupEnv(envKey(name)); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envInt(name string, def int) int {
	if v, ok := os.LookupEnv(envKey(name)); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(name string, def float64) float64 {
	if v, ok := os.LookupEnv(envKey(name)); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(name string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(envKey(name)); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parseBox parses "west,south,east,north" into an extent that may be
// downloaded in one call.
func parseBox(s string) (osm.Extent, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return osm.Extent{}, fmt.Errorf("box %q: want west,south,east,north", s)
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return osm.Extent{}, fmt.Errorf("box %q: %w", s, err)
		}
		v[i] = f
	}

	b := entity.Bounds{Left: v[0], Bottom: v[1], Right: v[2], Top: v[3]}
	if err := core.ValidateLoadBounds(b); err != nil {
		return osm.Extent{}, fmt.Errorf("box %q: %w", s, err)
	}
	return osm.ExtentOf(b), nil
}

func parseBoxes(specs []string) ([]osm.Extent, error) {
	boxes := make([]osm.Extent, 0, len(specs))
	for _, s := range specs {
		box, err := parseBox(s)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}

// serviceURLs derives the advertised service and health URLs.
func serviceURLs(serviceURL, httpAddr string, httpEnabled bool) (svc, health string) {
	if serviceURL != "" {
		serviceURL = strings.TrimRight(serviceURL, "/")
		return serviceURL, serviceURL + "/health"
	}
	if !httpEnabled {
		return "", ""
	}
	svc = "http://localhost" + httpAddr
	if !strings.HasPrefix(httpAddr, ":") {
		svc = "http://" + httpAddr
	}
	return svc, svc + "/health"
}
