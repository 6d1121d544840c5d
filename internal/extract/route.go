package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// routeLeg is one DEX hop of a route plan.
type routeLeg struct {
	Dex    string
	Weight int64
}

// routeRequest mirrors the subset of the aggregator request payload that
// carries routing: swapInfo.routePlans[].subRouters[].dexes[].
type routeRequest struct {
	SwapInfo struct {
		RoutePlans []struct {
			SubRouters []struct {
				Dexes []struct {
					Dex    *string `json:"dex"`
					Weight flexInt `json:"weight"`
				} `json:"dexes"`
			} `json:"subRouters"`
		} `json:"routePlans"`
	} `json:"swapInfo"`
}

// parseRouteLegs flattens a request payload into its DEX legs. An empty
// payload yields no legs; legs without a dex name are dropped.
func parseRouteLegs(raw string) ([]routeLeg, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}

	var req routeRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}

	var legs []routeLeg
	for _, plan := range req.SwapInfo.RoutePlans {
		for _, sub := range plan.SubRouters {
			for _, d := range sub.Dexes {
				if d.Dex == nil {
					continue
				}
				name := strings.Trim(strings.TrimSpace(*d.Dex), `"`)
				if name == "" {
					continue
				}
				legs = append(legs, routeLeg{Dex: name, Weight: int64(d.Weight)})
			}
		}
	}
	return legs, nil
}

// flexInt accepts a JSON number, a numeric string, or null. Fractional
// values are truncated.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		s = strings.TrimSpace(unq)
		if s == "" {
			*f = 0
			return nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("weight %s is not numeric", s)
	}
	*f = flexInt(int64(v))
	return nil
}
