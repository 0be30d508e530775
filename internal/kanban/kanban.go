// Package kanban projects task lists into status columns. It never touches
// storage; callers pass tasks already scoped to what the viewer may see.
package kanban

import (
	"sort"

	"taskboard/internal/domain"
)

type Group struct {
	Status domain.Status
	Name   string
	Tasks  []domain.Task
	Count  int
	Total  domain.Money
}

type Board struct {
	Groups []Group
	Count  int
	Total  domain.Money
}

// Member is one assignee's slice of a status column.
type Member struct {
	User  domain.User
	Tasks []domain.Task
	Count int
	Total domain.Money
}

type TeamGroup struct {
	Group
	Members []Member
}

type TeamBoard struct {
	Groups []TeamGroup
	Users  []domain.User
	Count  int
	Total  domain.Money
}

// Names maps a status to its display name. A missing entry falls back to the
// status string.
type Names map[domain.Status]string

func (n Names) name(s domain.Status) string {
	if v, ok := n[s]; ok && v != "" {
		return v
	}
	return string(s)
}

// Sort orders tasks by due date, then creation time, then id.
func Sort(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.DueDate != b.DueDate {
			return a.DueDate < b.DueDate
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
}

// Build returns the five status groups in lifecycle order. Empty groups are
// present with zero count and total.
func Build(tasks []domain.Task, names Names) Board {
	byStatus := map[domain.Status][]domain.Task{}
	for _, t := range tasks {
		byStatus[t.Status] = append(byStatus[t.Status], t)
	}
	board := Board{Groups: make([]Group, 0, len(domain.StatusOrder))}
	for _, st := range domain.StatusOrder {
		g := newGroup(st, names, byStatus[st])
		board.Count += g.Count
		board.Total += g.Total
		board.Groups = append(board.Groups, g)
	}
	return board
}

// BuildTeam is Build with each column split by assignee. Members appear in the
// order of users; assignees missing from users follow in first-seen order.
func BuildTeam(tasks []domain.Task, users []domain.User, names Names) TeamBoard {
	order := map[string]int{}
	people := append([]domain.User(nil), users...)
	for i, u := range people {
		order[u.ID] = i
	}
	for _, t := range tasks {
		if _, ok := order[t.AssignedTo]; !ok {
			order[t.AssignedTo] = len(people)
			people = append(people, domain.User{ID: t.AssignedTo})
		}
	}

	board := Build(tasks, names)
	team := TeamBoard{Users: users, Count: board.Count, Total: board.Total}
	for _, g := range board.Groups {
		tg := TeamGroup{Group: g}
		slots := map[int]*Member{}
		var idx []int
		for _, t := range g.Tasks {
			i := order[t.AssignedTo]
			m, ok := slots[i]
			if !ok {
				m = &Member{User: people[i]}
				slots[i] = m
				idx = append(idx, i)
			}
			m.Tasks = append(m.Tasks, t)
			m.Count++
			m.Total += t.PaymentAmount
		}
		sort.Ints(idx)
		for _, i := range idx {
			tg.Members = append(tg.Members, *slots[i])
		}
		team.Groups = append(team.Groups, tg)
	}
	return team
}

func newGroup(st domain.Status, names Names, tasks []domain.Task) Group {
	g := Group{Status: st, Name: names.name(st), Tasks: append([]domain.Task{}, tasks...)}
	Sort(g.Tasks)
	for _, t := range g.Tasks {
		g.Total += t.PaymentAmount
	}
	g.Count = len(g.Tasks)
	return g
}
