package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matzehuels/depot/pkg/errors"
	"github.com/matzehuels/depot/pkg/version"
)

const (
	colRepositories = "repositories"
	colPackages     = "packages"
	colVersions     = "versions"

	connectTimeout = 10 * time.Second
)

// MongoStore is the production Store backed by MongoDB. Atomicity of
// UpsertVersion and CreatePackage rests on unique indexes plus single
// findAndModify/insert commands, so concurrent writers on any number of
// server instances converge without application-level locking.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects to MongoDB, verifies the connection and ensures
// the unique indexes the write path depends on.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "connecting to mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "pinging mongodb")
	}

	s := &MongoStore{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

var _ Store = (*MongoStore)(nil)

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := map[string]mongo.IndexModel{
		colRepositories: {
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		colPackages: {
			Keys:    bson.D{{Key: "repository_id", Value: 1}, {Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		colVersions: {
			Keys:    bson.D{{Key: "package_id", Value: 1}, {Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	for col, model := range indexes {
		if _, err := s.db.Collection(col).Indexes().CreateOne(ctx, model); err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "creating index on %s", col)
		}
	}
	return nil
}

func (s *MongoStore) FindRepository(ctx context.Context, name string) (*Repository, error) {
	var repo Repository
	err := s.db.Collection(colRepositories).FindOne(ctx, bson.M{"name": name}).Decode(&repo)
	if err == mongo.ErrNoDocuments {
		return nil, errors.New(errors.ErrCodeRepoNotFound, "repository %q not found", name)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "finding repository %q", name)
	}
	return &repo, nil
}

func (s *MongoStore) CreateRepository(ctx context.Context, repo *Repository) error {
	if repo.ID == "" {
		repo.ID = uuid.NewString()
	}
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.Collection(colRepositories).InsertOne(ctx, repo); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "creating repository %q", repo.Name)
	}
	return nil
}

func (s *MongoStore) FindPackage(ctx context.Context, repositoryID, name string) (*Package, error) {
	var pkg Package
	filter := bson.M{"repository_id": repositoryID, "name": name}
	err := s.db.Collection(colPackages).FindOne(ctx, filter).Decode(&pkg)
	if err == mongo.ErrNoDocuments {
		return nil, errors.New(errors.ErrCodePackageNotFound, "package %q not found", name)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "finding package %q", name)
	}
	return &pkg, nil
}

// CreatePackage inserts the package; a duplicate-key conflict means a
// concurrent writer won the race, in which case the existing row wins.
func (s *MongoStore) CreatePackage(ctx context.Context, pkg *Package) (*Package, error) {
	c := *pkg
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Collection(colPackages).InsertOne(ctx, c)
	if mongo.IsDuplicateKeyError(err) {
		return s.FindPackage(ctx, c.RepositoryID, c.Name)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "creating package %q", c.Name)
	}
	return &c, nil
}

func (s *MongoStore) SetPackageSource(ctx context.Context, packageID string, src *Source) error {
	res, err := s.db.Collection(colPackages).UpdateOne(ctx,
		bson.M{"_id": packageID},
		bson.M{"$set": bson.M{"source": src}},
	)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "updating package source")
	}
	if res.MatchedCount == 0 {
		return errors.New(errors.ErrCodePackageNotFound, "package %s not found", packageID)
	}
	return nil
}

func (s *MongoStore) ListPackages(ctx context.Context, repositoryID string) ([]Package, error) {
	return s.findPackages(ctx, bson.M{"repository_id": repositoryID})
}

func (s *MongoStore) SearchPackages(ctx context.Context, repositoryID, q, pkgType string) ([]Package, error) {
	filter := bson.M{"repository_id": repositoryID}
	if q != "" {
		filter["name"] = bson.M{"$regex": "^" + regexp.QuoteMeta(q)}
	}
	if pkgType != "" {
		filter["type"] = pkgType
	}
	return s.findPackages(ctx, filter)
}

func (s *MongoStore) findPackages(ctx context.Context, filter bson.M) ([]Package, error) {
	cur, err := s.db.Collection(colPackages).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "listing packages")
	}
	var out []Package
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "decoding packages")
	}
	return out, nil
}

func (s *MongoStore) FindVersion(ctx context.Context, packageID, name string) (*Version, error) {
	var v Version
	filter := bson.M{"package_id": packageID, "name": name}
	err := s.db.Collection(colVersions).FindOne(ctx, filter).Decode(&v)
	if err == mongo.ErrNoDocuments {
		return nil, errors.New(errors.ErrCodeVersionNotFound, "version %q not found", name)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "finding version %q", name)
	}
	return &v, nil
}

func (s *MongoStore) ListVersions(ctx context.Context, packageID string, dev bool) ([]Version, error) {
	nameFilter := bson.M{"$regex": "^" + version.DevPrefix}
	if !dev {
		nameFilter = bson.M{"$not": bson.M{"$regex": "^" + version.DevPrefix}}
	}
	cur, err := s.db.Collection(colVersions).Find(ctx,
		bson.M{"package_id": packageID, "name": nameFilter},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "listing versions")
	}
	var out []Version
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "decoding versions")
	}
	return out, nil
}

// UpsertVersion is a single findAndModify against the (package_id, name)
// unique index. Insert-only fields go through $setOnInsert so a concurrent
// re-push never resets the identity or creation time of the row.
func (s *MongoStore) UpsertVersion(ctx context.Context, packageID, name, shasum string, metadata json.RawMessage) (*Version, error) {
	now := time.Now().UTC()
	filter := bson.M{"package_id": packageID, "name": name}
	update := bson.M{
		"$set": bson.M{
			"shasum":     shasum,
			"metadata":   []byte(metadata),
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"_id":        uuid.NewString(),
			"package_id": packageID,
			"name":       name,
			"created_at": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var v Version
	if err := s.db.Collection(colVersions).FindOneAndUpdate(ctx, filter, update, opts).Decode(&v); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "upserting version %q", name)
	}
	return &v, nil
}

func (s *MongoStore) DeleteVersion(ctx context.Context, versionID string) (*Version, error) {
	var v Version
	err := s.db.Collection(colVersions).FindOneAndDelete(ctx, bson.M{"_id": versionID}).Decode(&v)
	if err == mongo.ErrNoDocuments {
		return nil, errors.New(errors.ErrCodeVersionNotFound, "version %s not found", versionID)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "deleting version %s", versionID)
	}
	return &v, nil
}

func (s *MongoStore) IncrementDownloads(ctx context.Context, packageID string) error {
	res, err := s.db.Collection(colPackages).UpdateOne(ctx,
		bson.M{"_id": packageID},
		bson.M{"$inc": bson.M{"downloads": 1}},
	)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "incrementing downloads")
	}
	if res.MatchedCount == 0 {
		return errors.New(errors.ErrCodePackageNotFound, "package %s not found", packageID)
	}
	return nil
}

// String implements fmt.Stringer for diagnostics.
func (s *MongoStore) String() string {
	return fmt.Sprintf("mongo(%s)", s.db.Name())
}
