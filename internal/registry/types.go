// Package registry stores taglists, trackers and subscribed users.
package registry

import (
	"sort"
	"strings"
)

type Rating string

const (
	RatingAll          Rating = "ALL"
	RatingSafe         Rating = "SAFE"
	RatingQuestionable Rating = "QUESTIONABLE"
	RatingExplicit     Rating = "EXPLICIT"
)

var ratingOrder = map[Rating]int{RatingAll: 0, RatingSafe: 1, RatingQuestionable: 2, RatingExplicit: 3}

// Taglist is a named mention list. HasRatings taglists let users pick per rating.
type Taglist struct {
	Abbreviation string `json:"abbreviation"`
	Description  string `json:"description,omitempty"`
	HasRatings   bool   `json:"has_ratings"`
}

// Tracker is an account allowed to tag posts for its taglists.
type Tracker struct {
	AccountID int64    `json:"account_id"`
	Name      string   `json:"name"`
	Taglists  []string `json:"taglists"`
}

// CanTag reports whether abbrev is one of the tracker's taglists.
func (t Tracker) CanTag(abbrev string) bool {
	for _, a := range t.Taglists {
		if strings.EqualFold(a, abbrev) {
			return true
		}
	}
	return false
}

type Subscription struct {
	Taglist string   `json:"taglist"`
	Ratings []Rating `json:"ratings"`
	Note    string   `json:"note,omitempty"`
}

type User struct {
	AccountID     int64          `json:"account_id"`
	Name          string         `json:"name"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// Subscription returns the user's entry for taglist, if any.
func (u User) Subscription(taglist string) (Subscription, bool) {
	for _, s := range u.Subscriptions {
		if strings.EqualFold(s.Taglist, taglist) {
			return s, true
		}
	}
	return Subscription{}, false
}

// merge folds incoming subscriptions into u; rating sets are unioned.
func (u User) merge(in User) User {
	out := User{AccountID: u.AccountID, Name: u.Name}
	if in.Name != "" {
		out.Name = in.Name
	}
	if out.AccountID == 0 {
		out.AccountID = in.AccountID
	}
	out.Subscriptions = append(out.Subscriptions, u.Subscriptions...)
	for _, s := range in.Subscriptions {
		idx := -1
		for i := range out.Subscriptions {
			if strings.EqualFold(out.Subscriptions[i].Taglist, s.Taglist) {
				idx = i
				break
			}
		}
		if idx < 0 {
			out.Subscriptions = append(out.Subscriptions, Subscription{Taglist: s.Taglist, Ratings: normalizeRatings(s.Ratings), Note: s.Note})
			continue
		}
		cur := out.Subscriptions[idx]
		cur.Ratings = normalizeRatings(append(append([]Rating(nil), cur.Ratings...), s.Ratings...))
		if s.Note != "" {
			cur.Note = s.Note
		}
		out.Subscriptions[idx] = cur
	}
	return out
}

// normalizeRatings dedups and orders ratings. ALL absorbs the rest.
func normalizeRatings(in []Rating) []Rating {
	seen := map[Rating]bool{}
	out := make([]Rating, 0, len(in))
	for _, r := range in {
		if r == RatingAll {
			return []Rating{RatingAll}
		}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return ratingOrder[out[i]] < ratingOrder[out[j]] })
	return out
}
