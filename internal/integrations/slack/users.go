package slackbot

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

const userCacheTTL = 5 * time.Minute

type userLister interface {
	GetUsers(options ...slack.GetUsersOption) ([]slack.User, error)
}

// userDirectory maps reviewer names from config to Slack user IDs.
type userDirectory struct {
	api userLister
	log logrus.FieldLogger

	mu        sync.Mutex
	users     []slack.User
	fetchedAt time.Time
}

func (d *userDirectory) cachedUsers() ([]slack.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.users != nil && time.Since(d.fetchedAt) < userCacheTTL {
		return d.users, nil
	}
	users, err := d.api.GetUsers()
	if err != nil {
		return nil, err
	}
	d.users = users
	d.fetchedAt = time.Now()
	return users, nil
}

// resolveUserIDs accepts Slack IDs or user/real/display names and returns
// the IDs plus the names it could not find.
func (d *userDirectory) resolveUserIDs(identifiers []string) ([]string, []string, error) {
	var ids []string
	var names []string

	for _, raw := range identifiers {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if isLikelySlackID(val) {
			ids = append(ids, val)
		} else {
			names = append(names, val)
		}
	}

	if len(names) == 0 {
		return uniqueStrings(ids), nil, nil
	}

	users, err := d.cachedUsers()
	if err != nil {
		d.log.WithError(err).Warn("resolve users: get users failed")
		return uniqueStrings(ids), names, err
	}

	nameToID := make(map[string]string)
	for _, user := range users {
		addName := func(n string) {
			n = strings.ToLower(strings.TrimSpace(n))
			if n == "" {
				return
			}
			if _, exists := nameToID[n]; !exists {
				nameToID[n] = user.ID
			}
		}
		addName(user.Name)
		addName(user.RealName)
		addName(user.Profile.DisplayName)
	}

	var unresolved []string
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if id, ok := nameToID[key]; ok {
			ids = append(ids, id)
		} else {
			unresolved = append(unresolved, name)
		}
	}

	d.log.WithFields(logrus.Fields{"ids": len(ids), "unresolved": len(unresolved)}).Debug("resolve users")
	return uniqueStrings(ids), unresolved, nil
}

func isLikelySlackID(val string) bool {
	if len(val) < 9 {
		return false
	}
	for i, r := range val {
		if i == 0 {
			if r != 'U' && r != 'W' {
				return false
			}
			continue
		}
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func uniqueStrings(vals []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range vals {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
