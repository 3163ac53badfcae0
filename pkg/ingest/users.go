package ingest

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/elonfeng/meatballs/internal/graph"
	"github.com/elonfeng/meatballs/internal/store"
	"github.com/elonfeng/meatballs/pkg/source"
)

// UserResult reports the outcome of one user resolution. UpdatedUser is set
// only when the user was created by this call.
type UserResult struct {
	Success     bool
	IsNew       bool
	UpdatedUser *graph.UserNode
}

// Users creates unseen users and refreshes the karma of known ones.
type Users struct {
	src   source.Client
	docs  store.Store
	graph Graph
	log   logrus.FieldLogger
	group singleflight.Group
}

func NewUsers(src source.Client, docs store.Store, g Graph, log logrus.FieldLogger) *Users {
	return &Users{src: src, docs: docs, graph: g, log: log}
}

// Resolve never fails the caller. Errors are logged and reported as
// Success=false. Concurrent calls for the same user share one lookup.
func (u *Users) Resolve(ctx context.Context, nativeID string) UserResult {
	if nativeID == "" {
		return UserResult{}
	}
	id := u.src.Name().ID(nativeID)
	v, _, _ := u.group.Do(id, func() (any, error) {
		return u.resolve(ctx, nativeID, id), nil
	})
	return v.(UserResult)
}

func (u *Users) resolve(ctx context.Context, nativeID, id string) UserResult {
	log := u.log.WithFields(logrus.Fields{"op": "UserActivity", "source": u.src.Name(), "user": id})

	exists, err := u.docs.UserExists(ctx, id)
	if err != nil {
		log.WithError(err).Error("check user")
		return UserResult{}
	}

	detail, err := u.src.User(ctx, nativeID)
	if err != nil {
		log.WithError(err).Warn("fetch user")
		return UserResult{}
	}
	if detail == nil {
		log.Warn("user missing from source")
		return UserResult{}
	}

	node := graph.UserNode{ID: id, Created: detail.Created, Score: detail.Karma}

	if !exists {
		if err := u.docs.SaveUser(ctx, &store.User{ID: id, About: nullable(detail.About), Created: detail.Created}); err != nil {
			log.WithError(err).Error("save user document")
			return UserResult{}
		}
		if err := u.graph.UpsertUser(ctx, node); err != nil {
			log.WithError(err).Error("save user node")
			return UserResult{}
		}
		log.Debug("saved new user")
		return UserResult{Success: true, IsNew: true, UpdatedUser: &node}
	}

	prior, found, err := u.graph.UserScore(ctx, id)
	if err != nil {
		log.WithError(err).Error("read user score")
		return UserResult{}
	}
	switch {
	case !found:
		if err := u.graph.UpsertUser(ctx, node); err != nil {
			log.WithError(err).Error("restore user node")
			return UserResult{}
		}
		log.Info("restored missing user node")
	case prior != detail.Karma:
		if err := u.graph.SetUserScore(ctx, id, detail.Karma); err != nil {
			log.WithError(err).Error("update user score")
			return UserResult{}
		}
		log.WithFields(logrus.Fields{"prior": prior, "latest": detail.Karma}).Debug("updated user score")
	}
	return UserResult{Success: true}
}
