package persistence

import (
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// NewMongoDb builds a client for the snapshot archive. The caller pings it;
// the archive is optional and the service runs without it.
func NewMongoDb(host, port, user, password, name string) (*mongo.Client, error) {
	if host == "" {
		return nil, fmt.Errorf("mongo host is not configured")
	}
	u := &url.URL{Scheme: "mongodb", Host: host, Path: "/" + name}
	if port != "" {
		u.Host = fmt.Sprintf("%s:%s", host, port)
	}
	if user != "" {
		u.User = url.UserPassword(user, password)
	}
	opts := options.Client().
		ApplyURI(u.String()).
		SetConnectTimeout(5 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)
	return mongo.Connect(opts)
}
