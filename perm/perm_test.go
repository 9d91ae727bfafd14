package perm

import (
	"context"
	"slices"
	"sync"
)

type team struct {
	ID     string
	Public bool
}

func (t *team) PermType() string { return "team" }
func (t *team) PermID() string   { return t.ID }
func (t *team) IsPublic() bool   { return t.Public }

type project struct {
	ID    string
	Owner UserID
	Team  *team
}

func (p *project) PermType() string { return "project" }
func (p *project) PermID() string   { return p.ID }

type task struct {
	ID      string
	Project *project
}

func (t *task) PermType() string { return "task" }
func (t *task) PermID() string   { return t.ID }

// ProjectTeam is reachable as "project_team" through a method.
func (t *task) ProjectTeam() *team {
	if t.Project == nil {
		return nil
	}
	return t.Project.Team
}

// fakeChecker grants codes per user and scope and counts lookups.
type fakeChecker struct {
	mu     sync.Mutex
	grants map[string]map[Ref][]string
	calls  int
	err    error
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{grants: map[string]map[Ref][]string{}}
}

func (c *fakeChecker) grant(user string, scope Ref, codes ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.grants[user] == nil {
		c.grants[user] = map[Ref][]string{}
	}
	c.grants[user][scope] = append(c.grants[user][scope], codes...)
}

func (c *fakeChecker) UserHasCodes(_ context.Context, user User, target Ref, codes []string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	held := c.grants[user.UserID()][target]
	for _, code := range codes {
		if !slices.Contains(held, code) {
			return false, nil
		}
	}
	return true, nil
}

func (c *fakeChecker) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type admin struct{ id UserID }

func (a admin) UserID() string { return a.id.UserID() }

func (admin) IsSuperuser() bool { return true }
