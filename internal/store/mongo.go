package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mawkee/txndoctor/internal/txn"
)

const defaultServerSelectionTimeout = 5 * time.Second

var (
	// ErrEmptyDatabase is returned when no database name is configured.
	ErrEmptyDatabase = errors.New("database name cannot be empty")
	// ErrConnect wraps connection establishment failures.
	ErrConnect = errors.New("mongo connect failed")
	// ErrPing wraps connectivity probe failures.
	ErrPing = errors.New("mongo ping failed")
)

// Reader is the read-only slice of the store the diagnostic walk needs.
// *Client implements it; engine tests substitute an in-memory fake.
type Reader interface {
	// FindOne returns the first document matching filter, or an error
	// wrapping txn.ErrNotFound when nothing matches.
	FindOne(ctx context.Context, collection string, filter bson.D) (bson.Raw, error)

	// Find returns a lazy, single-pass cursor over every document
	// matching filter, in natural order.
	Find(ctx context.Context, collection string, filter bson.D) (Cursor, error)
}

// Cursor iterates find results one document at a time. The full result
// set is never buffered; callers stop reading by not calling Next again.
type Cursor interface {
	Next(ctx context.Context) bool
	Current() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

// Client is a read-only MongoDB client bound to one database.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
}

var _ Reader = (*Client)(nil)

// Open validates cfg, connects, and verifies the server is reachable.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := options.Client().
		ApplyURI(cfg.ConnectionURI()).
		SetServerSelectionTimeout(defaultServerSelectionTimeout).
		SetAppName("txndoctor")

	if cfg.TLSCAFile != "" {
		tlsCfg, err := loadTLSConfig(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnect, err)
		}

		opts.SetTLSConfig(tlsCfg)
	}

	logger.Debug("connecting to mongo",
		zap.String("uri", cfg.MaskedURI()),
		zap.String("database", cfg.Database))

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		if derr := client.Disconnect(ctx); derr != nil {
			logger.Warn("disconnect after failed ping", zap.Error(derr))
		}

		return nil, fmt.Errorf("%w: %w", ErrPing, err)
	}

	return &Client{
		client: client,
		db:     client.Database(cfg.Database),
		log:    logger,
	}, nil
}

// Close releases the connection.
func (c *Client) Close(ctx context.Context) error {
	if c.client == nil {
		return nil
	}

	err := c.client.Disconnect(ctx)
	c.client = nil

	return errors.Wrap(err, "mongo disconnect")
}

// FindOne implements Reader.
func (c *Client) FindOne(ctx context.Context, collection string, filter bson.D) (bson.Raw, error) {
	raw, err := c.db.Collection(collection).FindOne(ctx, filter).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.Wrapf(txn.ErrNotFound, "collection %s", collection)
		}

		return nil, errors.Wrapf(err, "find one in %s", collection)
	}

	return raw, nil
}

// Find implements Reader.
func (c *Client) Find(ctx context.Context, collection string, filter bson.D) (Cursor, error) {
	cur, err := c.db.Collection(collection).Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrapf(err, "find in %s", collection)
	}

	return &mongoCursor{cur: cur}, nil
}

// mongoCursor adapts *mongo.Cursor to the Cursor interface.
type mongoCursor struct {
	cur *mongo.Cursor
}

func (m *mongoCursor) Next(ctx context.Context) bool   { return m.cur.Next(ctx) }
func (m *mongoCursor) Current() bson.Raw               { return m.cur.Current }
func (m *mongoCursor) Err() error                      { return m.cur.Err() }
func (m *mongoCursor) Close(ctx context.Context) error { return m.cur.Close(ctx) }

// IDFilter builds an _id filter for an externally supplied id. A 24-char
// hex string becomes an ObjectId, the stored type in the common case;
// anything else matches as the literal string.
func IDFilter(id string) bson.D {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.D{{Key: "_id", Value: oid}}
	}

	return bson.D{{Key: "_id", Value: id}}
}

// loadTLSConfig builds a TLS config trusting the CA bundle at path.
// Minimum version is pinned to TLS 1.2.
func loadTLSConfig(caFile string) (*tls.Config, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, errors.Wrapf(err, "read CA file %s", caFile)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.Newf("no certificates found in %s", caFile)
	}

	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}
