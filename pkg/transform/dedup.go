package transform

import (
	"sort"
	"strings"

	"github.com/cavistelabs/sommelier/pkg/schema"
)

// Deduplicate collapses raw customer rows that share an email, then rows
// that share a phone, into merged records. Field values take the first
// non-empty occurrence in insertion order; the merged customer_code is
// the comma-joined list of all source codes. Rows with neither email nor
// phone pass through as singletons.
func Deduplicate(rows []map[string]string) []*schema.Customer {
	groups := groupBy(rows, "email")
	covered := map[int]bool{}
	order := make([]int, 0, len(rows))
	merged := map[int][]int{}

	claim := func(members []int) {
		if len(members) == 0 {
			return
		}
		first := members[0]
		order = append(order, first)
		merged[first] = members
		for _, i := range members {
			covered[i] = true
		}
	}

	for _, members := range groups {
		if len(members) > 1 {
			claim(members)
		}
	}

	// Second pass: phone groups over rows not already merged by email.
	var remaining []map[string]string
	remainingIdx := []int{}
	for i, row := range rows {
		if !covered[i] {
			remaining = append(remaining, row)
			remainingIdx = append(remainingIdx, i)
		}
	}
	for _, members := range groupBy(remaining, "phone") {
		if len(members) > 1 {
			abs := make([]int, len(members))
			for j, m := range members {
				abs[j] = remainingIdx[m]
			}
			claim(abs)
		}
	}

	for i := range rows {
		if !covered[i] {
			order = append(order, i)
			merged[i] = []int{i}
		}
	}
	sort.Ints(order)

	out := make([]*schema.Customer, 0, len(order))
	for _, first := range order {
		out = append(out, mergeGroup(rows, merged[first]))
	}
	return out
}

// groupBy partitions row indexes by a non-empty key field, preserving
// insertion order inside each group. Returned groups are ordered by
// their first member.
func groupBy(rows []map[string]string, field string) [][]int {
	byValue := map[string][]int{}
	var firsts []string
	for i, row := range rows {
		v := strings.TrimSpace(row[field])
		if v == "" {
			continue
		}
		if _, ok := byValue[v]; !ok {
			firsts = append(firsts, v)
		}
		byValue[v] = append(byValue[v], i)
	}
	out := make([][]int, 0, len(firsts))
	for _, v := range firsts {
		out = append(out, byValue[v])
	}
	return out
}

func mergeGroup(rows []map[string]string, members []int) *schema.Customer {
	pick := func(field string) string {
		for _, i := range members {
			if v := strings.TrimSpace(rows[i][field]); v != "" {
				return v
			}
		}
		return ""
	}

	codes := make([]string, 0, len(members))
	for _, i := range members {
		codes = append(codes, rows[i]["customer_code"])
	}

	c := &schema.Customer{
		CustomerCode: strings.Join(codes, ","),
		LastName:     pick("last_name"),
		FirstName:    pick("first_name"),
		Email:        pick("email"),
		Phone:        pick("phone"),
		Address:      pick("address"),
		PostalCode:   pick("postal_code"),
		City:         pick("city"),
		Country:      pick("country"),
		Contactable:  true,
	}
	if len(members) > 1 {
		c.CodesMerged = true
		c.DuplicateCount = len(members)
	}
	return c
}
