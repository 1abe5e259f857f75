package mongo

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type legacyReactions struct {
	ID        string `bson:"_id"`
	Reactions bson.D `bson:"reactions"`
}

// MigrateLegacyReactions rewrites messages whose reactions are stored as an
// emoji -> user ids map into the canonical [{emoji, user_ids}] list. Emoji
// keep their document order. It returns the number of rewritten messages
// and is a no-op once every document is canonical.
func MigrateLegacyReactions(ctx context.Context, db *mongo.Database) (int64, error) {
	coll := db.Collection(messageCollection)
	cursor, err := coll.Find(ctx, bson.M{"reactions": bson.M{"$type": "object"}})
	if err != nil {
		return 0, fmt.Errorf("find legacy reactions: %w", err)
	}
	defer cursor.Close(ctx)

	var migrated int64
	for cursor.Next(ctx) {
		var doc legacyReactions
		if err := cursor.Decode(&doc); err != nil {
			return migrated, fmt.Errorf("decode legacy reactions: %w", err)
		}
		groups := canonicalReactions(doc.Reactions)
		_, err := coll.UpdateOne(ctx,
			bson.M{"_id": doc.ID, "reactions": bson.M{"$type": "object"}},
			bson.M{"$set": bson.M{"reactions": groups}})
		if err != nil {
			return migrated, fmt.Errorf("rewrite reactions of %s: %w", doc.ID, err)
		}
		migrated++
	}
	if err := cursor.Err(); err != nil {
		return migrated, fmt.Errorf("iterate legacy reactions: %w", err)
	}
	return migrated, nil
}

func canonicalReactions(legacy bson.D) []reactionDoc {
	out := make([]reactionDoc, 0, len(legacy))
	for _, e := range legacy {
		arr, ok := e.Value.(bson.A)
		if !ok {
			continue
		}
		seen := make(map[string]struct{}, len(arr))
		var users []string
		for _, v := range arr {
			uid, ok := v.(string)
			if !ok {
				continue
			}
			if _, dup := seen[uid]; dup {
				continue
			}
			seen[uid] = struct{}{}
			users = append(users, uid)
		}
		if len(users) == 0 {
			continue
		}
		sort.Strings(users)
		out = append(out, reactionDoc{Emoji: e.Key, UserIDs: users})
	}
	return out
}
