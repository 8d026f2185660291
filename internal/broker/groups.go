package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/org/credbroker/pkg/models"
)

// DatabaseGroups returns the group tree of the active database, excluding
// the recycle bin. The tree is assembled iteratively from the flat group
// list to bound stack usage on deep hierarchies.
func (b *Broker) DatabaseGroups(ctx context.Context) (*models.GroupNode, error) {
	db := b.databases.Active()
	if db == nil || db.IsLocked() {
		return nil, nil
	}

	groups, err := db.GroupsRecursive(ctx)
	if err != nil {
		return nil, err
	}
	root, err := db.RootGroupUUID(ctx)
	if err != nil {
		return nil, err
	}
	var bin uuid.UUID
	if id, err := db.RecycleBinUUID(ctx); err == nil {
		bin = id
	}

	nodes := map[uuid.UUID]*models.GroupNode{}
	children := map[uuid.UUID][]uuid.UUID{}
	for _, g := range groups {
		if g.UUID == bin {
			continue
		}
		nodes[g.UUID] = &models.GroupNode{Name: g.Name, UUID: hexUUID(g.UUID)}
		if g.ParentUUID != uuid.Nil {
			children[g.ParentUUID] = append(children[g.ParentUUID], g.UUID)
		}
	}

	rootNode, ok := nodes[root]
	if !ok {
		return nil, nil
	}
	stack := []uuid.UUID{root}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, childID := range children[current] {
			child, ok := nodes[childID]
			if !ok {
				continue
			}
			nodes[current].Children = append(nodes[current].Children, child)
			stack = append(stack, childID)
		}
	}
	return rootNode, nil
}

// CreateGroup resolves a slash-separated group path, creating missing
// components after user confirmation. Returns the name and UUID of the
// final group, or nil when declined.
func (b *Broker) CreateGroup(ctx context.Context, path string) (*models.GroupNode, error) {
	db := b.databases.Active()
	if db == nil || db.IsLocked() {
		return nil, nil
	}

	if g, err := db.FindGroupByPath(ctx, path); err == nil {
		return &models.GroupNode{Name: g.Name, UUID: hexUUID(g.UUID)}, nil
	}

	ok, err := b.prompt.Confirm(ctx, "Create a new group",
		fmt.Sprintf("A request for creating a new group %q has been received.\n"+
			"Do you want to create this group?", path))
	if err != nil || !ok {
		return nil, err
	}

	parent, err := db.RootGroupUUID(ctx)
	if err != nil {
		return nil, err
	}

	var last *models.Group
	walked := ""
	for _, component := range strings.Split(strings.Trim(path, "/"), "/") {
		if component == "" {
			continue
		}
		if walked == "" {
			walked = component
		} else {
			walked += "/" + component
		}
		if g, err := db.FindGroupByPath(ctx, walked); err == nil {
			parent, last = g.UUID, g
			continue
		}
		g, err := db.CreateGroup(ctx, parent, component)
		if err != nil {
			return nil, fmt.Errorf("creating group %q: %w", walked, err)
		}
		parent, last = g.UUID, g
	}
	if last == nil {
		return nil, nil
	}
	return &models.GroupNode{Name: last.Name, UUID: hexUUID(last.UUID)}, nil
}
