package dataprep

import (
	"fmt"
	"slices"
	"strconv"
)

// Classes returns the distinct labels, sorted numerically when every label
// parses as a number and lexicographically otherwise.
func Classes(labels ...[]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, ls := range labels {
		for _, l := range ls {
			if _, ok := seen[l]; !ok {
				seen[l] = struct{}{}
				out = append(out, l)
			}
		}
	}
	numeric := true
	nums := make(map[string]float64, len(out))
	for _, l := range out {
		v, err := strconv.ParseFloat(l, 64)
		if err != nil {
			numeric = false
			break
		}
		nums[l] = v
	}
	if numeric {
		slices.SortFunc(out, func(a, b string) int {
			switch {
			case nums[a] < nums[b]:
				return -1
			case nums[a] > nums[b]:
				return 1
			}
			return 0
		})
	} else {
		slices.Sort(out)
	}
	return out
}

// LabelEncode maps labels to their index in classes.
func LabelEncode(labels, classes []string) ([]int, error) {
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	out := make([]int, len(labels))
	for i, l := range labels {
		ci, ok := index[l]
		if !ok {
			return nil, fmt.Errorf("label %q is not a known class", l)
		}
		out[i] = ci
	}
	return out, nil
}
