package main

import (
	"encoding/json"
	"fmt"
	"sort"
)

// IconCategory selects which weather artwork the renderer draws.
type IconCategory int

const (
	IconNone IconCategory = iota
	IconStorm
	IconLightRain
	IconRain
	IconSnow
	IconFog
	IconClear
	IconLightClouds
	IconClouds
)

var iconNames = map[IconCategory]string{
	IconNone:        "none",
	IconStorm:       "storm",
	IconLightRain:   "light_rain",
	IconRain:        "rain",
	IconSnow:        "snow",
	IconFog:         "fog",
	IconClear:       "clear",
	IconLightClouds: "light_clouds",
	IconClouds:      "clouds",
}

func (c IconCategory) String() string {
	if s, ok := iconNames[c]; ok {
		return s
	}
	return fmt.Sprintf("IconCategory(%d)", int(c))
}

func (c IconCategory) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *IconCategory) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("icon category: %w", err)
	}
	for k, v := range iconNames {
		if v == s {
			*c = k
			return nil
		}
	}
	return fmt.Errorf("unknown icon category %q", s)
}

// conditionRange maps an inclusive range of condition codes to a category.
type conditionRange struct {
	lo, hi int
	icon   IconCategory
}

// conditionTable follows the OpenWeatherMap condition code groups.
// Ranges must be disjoint; checked in init.
var conditionTable = []conditionRange{
	{200, 232, IconStorm},
	{300, 321, IconLightRain},
	{500, 504, IconRain},
	{511, 511, IconSnow},
	{520, 531, IconRain},
	{600, 622, IconRain},
	{701, 761, IconFog},
	{781, 781, IconStorm},
	{800, 800, IconClear},
	{801, 801, IconLightClouds},
	{802, 804, IconClouds},
}

func init() {
	if err := checkPartition(conditionTable); err != nil {
		panic(err)
	}
}

// checkPartition returns an error if any two ranges overlap or a range is inverted.
func checkPartition(table []conditionRange) error {
	sorted := append([]conditionRange(nil), table...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].lo < sorted[j].lo })
	for i, r := range sorted {
		if r.lo > r.hi {
			return fmt.Errorf("condition range %d-%d is inverted", r.lo, r.hi)
		}
		if i > 0 && r.lo <= sorted[i-1].hi {
			return fmt.Errorf("condition ranges %d-%d and %d-%d overlap",
				sorted[i-1].lo, sorted[i-1].hi, r.lo, r.hi)
		}
	}
	return nil
}

// MapConditionCode maps a weather condition code to an icon category.
// Any integer is accepted; codes outside every range map to IconNone.
func MapConditionCode(code int) IconCategory {
	for _, r := range conditionTable {
		if code >= r.lo && code <= r.hi {
			return r.icon
		}
	}
	return IconNone
}

// WeatherSnapshot is the last known weather as pushed by the companion.
// It is a value type; Apply returns a new snapshot.
type WeatherSnapshot struct {
	HighTemp      string       `json:"high_temp,omitempty"`
	HighTempKnown bool         `json:"high_temp_known"`
	LowTemp       string       `json:"low_temp,omitempty"`
	LowTempKnown  bool         `json:"low_temp_known"`
	Icon          IconCategory `json:"icon"`
}

// WeatherUpdate is one normalized document. Nil fields were absent.
type WeatherUpdate struct {
	HighTemp *string
	LowTemp  *string
	Icon     *IconCategory
}

// Empty reports whether the update carries no fields.
func (u WeatherUpdate) Empty() bool {
	return u.HighTemp == nil && u.LowTemp == nil && u.Icon == nil
}

// Apply merges u into w field by field; absent fields keep their prior value.
func (w WeatherSnapshot) Apply(u WeatherUpdate) WeatherSnapshot {
	if u.HighTemp != nil {
		w.HighTemp = *u.HighTemp
		w.HighTempKnown = true
	}
	if u.LowTemp != nil {
		w.LowTemp = *u.LowTemp
		w.LowTempKnown = true
	}
	if u.Icon != nil {
		w.Icon = *u.Icon
	}
	return w
}
