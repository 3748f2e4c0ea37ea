package http

import "strings"

// headerCarrier exposes the HTTP_* request variables to an OpenTelemetry propagator.
type headerCarrier map[string]string

func cgiKey(name string) string {
	return "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func (c headerCarrier) Get(key string) string {
	return c[cgiKey(key)]
}

func (c headerCarrier) Set(key, value string) {
	c[cgiKey(key)] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for key := range c {
		if name, found := strings.CutPrefix(key, "HTTP_"); found {
			keys = append(keys, strings.ToLower(strings.ReplaceAll(name, "_", "-")))
		}
	}
	return keys
}
