package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fathima-sithara/identity-service/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// usernameCollation makes username uniqueness and lookups case-insensitive.
var usernameCollation = &options.Collation{Locale: "en", Strength: 2}

type MongoUserRepo struct {
	col *mongo.Collection
}

func NewMongoUserRepo(ctx context.Context, db *mongo.Database, collection string) (*MongoUserRepo, error) {
	col := db.Collection(collection)
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetCollation(usernameCollation)},
		{Keys: bson.D{{Key: "external_subject_id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
	})
	if err != nil {
		return nil, fmt.Errorf("create user indexes: %w", err)
	}
	return &MongoUserRepo{col: col}, nil
}

func (r *MongoUserRepo) Create(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	u.Email = NormalizeEmail(u.Email)
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	if u.ExternalSubjectID != "" {
		u.PasswordHash = ""
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	if _, err := r.col.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateUser
		}
		return err
	}
	return nil
}

func (r *MongoUserRepo) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*models.User, error) {
	var u models.User
	err := r.col.FindOne(ctx, filter, opts...).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *MongoUserRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": NormalizeEmail(email)})
}

func (r *MongoUserRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"username": username}, options.FindOne().SetCollation(usernameCollation))
}

func (r *MongoUserRepo) FindBySubjectID(ctx context.Context, subjectID string) (*models.User, error) {
	if subjectID == "" {
		return nil, ErrUserNotFound
	}
	return r.findOne(ctx, bson.M{"external_subject_id": subjectID})
}

func (r *MongoUserRepo) Update(ctx context.Context, id primitive.ObjectID, patch models.UserPatch) error {
	if patch.Empty() {
		return nil
	}
	res, err := r.col.UpdateOne(ctx, patchFilter(id, patch), patchUpdate(patch, time.Now().UTC()))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateUser
		}
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *MongoUserRepo) SetToken(ctx context.Context, id primitive.ObjectID, kind models.TokenKind, hash string, expiry time.Time) error {
	hashField, expiryField := tokenFields(kind)
	res, err := r.col.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		hashField:    hash,
		expiryField:  expiry.UTC(),
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *MongoUserRepo) ClearToken(ctx context.Context, id primitive.ObjectID, kind models.TokenKind) error {
	hashField, expiryField := tokenFields(kind)
	_, err := r.col.UpdateByID(ctx, id, bson.M{
		"$set":   bson.M{"updated_at": time.Now().UTC()},
		"$unset": bson.M{hashField: "", expiryField: ""},
	})
	return err
}

func (r *MongoUserRepo) ConsumeVerificationToken(ctx context.Context, email, hash string, now time.Time) (*models.User, error) {
	filter := tokenFilter(models.VerificationToken, email, hash, now)
	update := bson.M{
		"$set":   bson.M{"email_verified": true, "updated_at": now.UTC()},
		"$unset": bson.M{"verification_token_hash": "", "verification_token_expiry": ""},
	}
	return r.consume(ctx, filter, update)
}

func (r *MongoUserRepo) ConsumeResetToken(ctx context.Context, email, hash, newPasswordHash string, now time.Time) (*models.User, error) {
	filter := tokenFilter(models.PasswordResetToken, email, hash, now)
	filter["external_subject_id"] = bson.M{"$exists": false}
	update := bson.M{
		"$set":   bson.M{"password_hash": newPasswordHash, "updated_at": now.UTC()},
		"$unset": bson.M{"password_reset_token_hash": "", "password_reset_token_expiry": ""},
	}
	return r.consume(ctx, filter, update)
}

func (r *MongoUserRepo) consume(ctx context.Context, filter, update bson.M) (*models.User, error) {
	var u models.User
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *MongoUserRepo) PurgeLinkedPasswords(ctx context.Context) (int64, error) {
	res, err := r.col.UpdateMany(ctx,
		bson.M{
			"external_subject_id": bson.M{"$exists": true, "$ne": ""},
			"password_hash":       bson.M{"$exists": true},
		},
		bson.M{"$unset": bson.M{"password_hash": ""}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoUserRepo) Ping(ctx context.Context) error {
	return r.col.Database().Client().Ping(ctx, readpref.Primary())
}

func tokenFields(kind models.TokenKind) (hashField, expiryField string) {
	if kind == models.PasswordResetToken {
		return "password_reset_token_hash", "password_reset_token_expiry"
	}
	return "verification_token_hash", "verification_token_expiry"
}

func tokenFilter(kind models.TokenKind, email, hash string, now time.Time) bson.M {
	hashField, expiryField := tokenFields(kind)
	return bson.M{
		"email":     NormalizeEmail(email),
		hashField:   hash,
		expiryField: bson.M{"$gt": now.UTC()},
	}
}

func patchFilter(id primitive.ObjectID, p models.UserPatch) bson.M {
	filter := bson.M{"_id": id}
	if p.PasswordHash != nil {
		filter["external_subject_id"] = bson.M{"$exists": false}
	}
	return filter
}

func patchUpdate(p models.UserPatch, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	unset := bson.M{}

	if p.Username != nil {
		set["username"] = *p.Username
	}
	if p.Email != nil {
		set["email"] = NormalizeEmail(*p.Email)
	}
	if p.EmailVerified != nil {
		set["email_verified"] = *p.EmailVerified
	}
	if p.ExternalDisplayName != nil {
		set["external_display_name"] = *p.ExternalDisplayName
	}
	if p.Avatar != nil {
		set["avatar"] = *p.Avatar
	}
	if p.PasswordHash != nil {
		set["password_hash"] = *p.PasswordHash
	}
	if p.ExternalSubjectID != nil && *p.ExternalSubjectID != "" {
		set["external_subject_id"] = *p.ExternalSubjectID
		unset["password_hash"] = ""
		delete(set, "password_hash")
	}
	if p.ClearPassword {
		unset["password_hash"] = ""
		delete(set, "password_hash")
	}
	if p.ClearVerificationToken {
		unset["verification_token_hash"] = ""
		unset["verification_token_expiry"] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}
