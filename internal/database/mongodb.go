// internal/database/mongodb.go
package database

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"bayou-dm/internal/models"
	"bayou-dm/internal/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDB struct {
	Client        *mongo.Client
	Profiles      *mongo.Collection
	Conversations *mongo.Collection
	Messages      *mongo.Collection
	Reactions     *mongo.Collection
}

func NewMongoDB(uri string) (*MongoDB, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Ping the database to verify connection
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	db := client.Database("bayoudm")
	m := &MongoDB{
		Client:        client,
		Profiles:      db.Collection("profiles"),
		Conversations: db.Collection("conversations"),
		Messages:      db.Collection("messages"),
		Reactions:     db.Collection("reactions"),
	}

	if err := m.ensureIndexes(ctx); err != nil {
		return nil, err
	}

	log.Println("Successfully connected to MongoDB!")
	return m, nil
}

// ensureIndexes creates the unique indexes the race-tolerant writes rely
// on: the canonical pair key for conversations and the composite reaction
// key.
func (m *MongoDB) ensureIndexes(ctx context.Context) error {
	_, err := m.Conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "pairKey", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation pair index: %v", err)
	}

	_, err = m.Reactions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "messageId", Value: 1},
			{Key: "userId", Value: 1},
			{Key: "emoji", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create reaction key index: %v", err)
	}

	_, err = m.Messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversationId", Value: 1},
			{Key: "createdAt", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create message history index: %v", err)
	}

	return nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	log.Println("Closing MongoDB connection...")
	return m.Client.Disconnect(ctx)
}

// ProfileDocument represents the MongoDB document structure for profiles
type ProfileDocument struct {
	ID        string    `bson:"_id"`
	Username  string    `bson:"username"`
	AvatarURL string    `bson:"avatarUrl"`
	CreatedAt time.Time `bson:"createdAt"`
}

// ConversationDocument represents the MongoDB document structure for conversations
type ConversationDocument struct {
	ID              string    `bson:"_id"`
	PairKey         string    `bson:"pairKey"`
	Participants    []string  `bson:"participants"`
	CreatedAt       time.Time `bson:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt"`
	LastMessageText string    `bson:"lastMessageText"`
	LastMessageAt   time.Time `bson:"lastMessageAt"`
}

// MessageDocument represents the MongoDB document structure for messages
type MessageDocument struct {
	ID             string     `bson:"_id"`
	ConversationID string     `bson:"conversationId"`
	SenderID       string     `bson:"senderId"`
	Content        string     `bson:"content"`
	CreatedAt      time.Time  `bson:"createdAt"`
	EditedAt       *time.Time `bson:"editedAt,omitempty"`
	IsRead         bool       `bson:"isRead"`
	AttachmentURL  string     `bson:"attachmentUrl,omitempty"`
	AttachmentType string     `bson:"attachmentType,omitempty"`
	ReplyToID      *string    `bson:"replyToId,omitempty"`
}

// ReactionDocument represents the MongoDB document structure for reactions
type ReactionDocument struct {
	MessageID string `bson:"messageId"`
	UserID    string `bson:"userId"`
	Emoji     string `bson:"emoji"`
}

func messageFromDocument(doc *MessageDocument) *models.Message {
	id, _ := uuid.Parse(doc.ID)
	conversationID, _ := uuid.Parse(doc.ConversationID)
	senderID, _ := uuid.Parse(doc.SenderID)

	msg := &models.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        doc.Content,
		CreatedAt:      doc.CreatedAt,
		EditedAt:       doc.EditedAt,
		IsRead:         doc.IsRead,
		AttachmentURL:  doc.AttachmentURL,
		AttachmentType: models.AttachmentKind(doc.AttachmentType),
	}
	if doc.ReplyToID != nil {
		if replyTo, err := uuid.Parse(*doc.ReplyToID); err == nil {
			msg.ReplyToID = &replyTo
		}
	}
	return msg
}

func documentFromMessage(msg *models.Message) *MessageDocument {
	doc := &MessageDocument{
		ID:             msg.ID.String(),
		ConversationID: msg.ConversationID.String(),
		SenderID:       msg.SenderID.String(),
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
		EditedAt:       msg.EditedAt,
		IsRead:         msg.IsRead,
		AttachmentURL:  msg.AttachmentURL,
		AttachmentType: string(msg.AttachmentType),
	}
	if msg.ReplyToID != nil {
		s := msg.ReplyToID.String()
		doc.ReplyToID = &s
	}
	return doc
}

func conversationFromDocument(doc *ConversationDocument) *models.Conversation {
	id, _ := uuid.Parse(doc.ID)
	return &models.Conversation{
		ID:              id,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		LastMessageText: doc.LastMessageText,
		LastMessageAt:   doc.LastMessageAt,
	}
}

// GetProfile fetches a profile by user id.
func (m *MongoDB) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var doc ProfileDocument
	err := m.Profiles.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, utils.NewAppError(utils.ErrNotFound, "profile not found", err)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query profile", err)
	}
	profileID, _ := uuid.Parse(doc.ID)
	return &models.Profile{ID: profileID, Username: doc.Username, AvatarURL: doc.AvatarURL, CreatedAt: doc.CreatedAt}, nil
}

// GetProfiles fetches several profiles at once.
func (m *MongoDB) GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Profile, error) {
	out := make(map[uuid.UUID]*models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	idStrings := make([]string, len(ids))
	for i, id := range ids {
		idStrings[i] = id.String()
	}

	cursor, err := m.Profiles.Find(ctx, bson.M{"_id": bson.M{"$in": idStrings}})
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query profiles", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc ProfileDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode profile", err)
		}
		profileID, _ := uuid.Parse(doc.ID)
		out[profileID] = &models.Profile{ID: profileID, Username: doc.Username, AvatarURL: doc.AvatarURL, CreatedAt: doc.CreatedAt}
	}
	return out, nil
}

// SaveProfile inserts or updates a profile.
func (m *MongoDB) SaveProfile(ctx context.Context, profile *models.Profile) error {
	doc := ProfileDocument{
		ID:        profile.ID.String(),
		Username:  profile.Username,
		AvatarURL: profile.AvatarURL,
		CreatedAt: profile.CreatedAt,
	}
	opts := options.Replace().SetUpsert(true)
	_, err := m.Profiles.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to save profile", err)
	}
	return nil
}

// FindOrCreateDirect returns the conversation shared by the pair, creating
// it if none exists. A duplicate-key error on the pair index means the
// other participant created it first; the existing conversation is
// returned instead of failing.
func (m *MongoDB) FindOrCreateDirect(ctx context.Context, userA, userB uuid.UUID) (uuid.UUID, error) {
	pairKey := DirectPairKey(userA, userB)
	now := time.Now()

	doc := ConversationDocument{
		ID:            uuid.New().String(),
		PairKey:       pairKey,
		Participants:  []string{userA.String(), userB.String()},
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: now,
	}

	_, err := m.Conversations.InsertOne(ctx, doc)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return uuid.Nil, utils.NewAppError(utils.ErrDatabase, "failed to create conversation", err)
	}

	var existing ConversationDocument
	err = m.Conversations.FindOne(ctx, bson.M{"pairKey": pairKey}).Decode(&existing)
	if err != nil {
		return uuid.Nil, utils.NewAppError(utils.ErrDatabase, "failed to resolve conversation by pair", err)
	}

	conversationID, _ := uuid.Parse(existing.ID)
	return conversationID, nil
}

// GetConversation fetches a conversation by id.
func (m *MongoDB) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var doc ConversationDocument
	err := m.Conversations.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, utils.NewAppError(utils.ErrNotFound, "conversation not found", err)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query conversation", err)
	}
	return conversationFromDocument(&doc), nil
}

// ListConversations returns the conversations the user participates in,
// most recently updated first.
func (m *MongoDB) ListConversations(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error) {
	cursor, err := m.Conversations.Find(ctx, bson.M{"participants": userID.String()})
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to list conversations", err)
	}
	defer cursor.Close(ctx)

	var out []*models.Conversation
	for cursor.Next(ctx) {
		var doc ConversationDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode conversation", err)
		}
		out = append(out, conversationFromDocument(&doc))
	}
	// Sorted here rather than in the query: the key falls back to the
	// last message time when the record itself is stale.
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity().After(out[j].LastActivity())
	})
	return out, nil
}

// GetParticipants returns the participant user ids of a conversation.
func (m *MongoDB) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	var doc ConversationDocument
	err := m.Conversations.FindOne(ctx, bson.M{"_id": conversationID.String()}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, utils.NewAppError(utils.ErrNotFound, "conversation not found", err)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query participants", err)
	}
	ids := make([]uuid.UUID, 0, len(doc.Participants))
	for _, s := range doc.Participants {
		if id, err := uuid.Parse(s); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// TouchConversation bumps updated_at and refreshes the preview.
func (m *MongoDB) TouchConversation(ctx context.Context, id uuid.UUID, preview string, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"updatedAt":       at,
		"lastMessageText": preview,
		"lastMessageAt":   at,
	}}
	_, err := m.Conversations.UpdateOne(ctx, bson.M{"_id": id.String()}, update)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to touch conversation", err)
	}
	return nil
}

// ListMessages returns the full ordered history of a conversation.
func (m *MongoDB) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := m.Messages.Find(ctx, bson.M{"conversationId": conversationID.String()}, opts)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrFetch, "failed to load message history", err)
	}
	defer cursor.Close(ctx)

	var out []*models.Message
	for cursor.Next(ctx) {
		var doc MessageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode message", err)
		}
		out = append(out, messageFromDocument(&doc))
	}
	return out, nil
}

// GetMessage fetches a single message by id.
func (m *MongoDB) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var doc MessageDocument
	err := m.Messages.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, utils.NewAppError(utils.ErrNotFound, "message not found", err)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query message", err)
	}
	return messageFromDocument(&doc), nil
}

// GetMessages fetches several messages at once.
func (m *MongoDB) GetMessages(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Message, error) {
	out := make(map[uuid.UUID]*models.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	idStrings := make([]string, len(ids))
	for i, id := range ids {
		idStrings[i] = id.String()
	}

	cursor, err := m.Messages.Find(ctx, bson.M{"_id": bson.M{"$in": idStrings}})
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query messages", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc MessageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode message", err)
		}
		msg := messageFromDocument(&doc)
		out[msg.ID] = msg
	}
	return out, nil
}

// InsertMessage persists a new message. A duplicate-key error is the
// benign already-delivered race and maps to PERMISSION_RACE.
func (m *MongoDB) InsertMessage(ctx context.Context, msg *models.Message) error {
	_, err := m.Messages.InsertOne(ctx, documentFromMessage(msg))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return utils.NewAppError(utils.ErrPermissionRace, "message already delivered", err)
		}
		return utils.NewAppError(utils.ErrDatabase, "failed to insert message", err)
	}
	return nil
}

// UpdateMessageContent applies an edit.
func (m *MongoDB) UpdateMessageContent(ctx context.Context, id uuid.UUID, content string, editedAt time.Time) error {
	update := bson.M{"$set": bson.M{"content": content, "editedAt": editedAt}}
	result, err := m.Messages.UpdateOne(ctx, bson.M{"_id": id.String()}, update)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to update message", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewAppError(utils.ErrNotFound, "message not found", nil)
	}
	return nil
}

// MarkConversationRead flips every inbound message to read.
func (m *MongoDB) MarkConversationRead(ctx context.Context, conversationID, readerID uuid.UUID) error {
	filter := bson.M{
		"conversationId": conversationID.String(),
		"senderId":       bson.M{"$ne": readerID.String()},
		"isRead":         false,
	}
	_, err := m.Messages.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"isRead": true}})
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to mark conversation read", err)
	}
	return nil
}

// DeleteMessage removes a message and its reactions. Missing ids are a
// no-op.
func (m *MongoDB) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	_, err := m.Messages.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to delete message", err)
	}
	// No cascading deletes in MongoDB; orphaned reactions are removed here.
	_, err = m.Reactions.DeleteMany(ctx, bson.M{"messageId": id.String()})
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to delete message reactions", err)
	}
	return nil
}

// LastMessage returns the most recent message, or nil for an empty
// conversation.
func (m *MongoDB) LastMessage(ctx context.Context, conversationID uuid.UUID) (*models.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	var doc MessageDocument
	err := m.Messages.FindOne(ctx, bson.M{"conversationId": conversationID.String()}, opts).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query last message", err)
	}
	return messageFromDocument(&doc), nil
}

// UpsertReaction records a reaction; re-inserting the same key is
// idempotent thanks to the unique index.
func (m *MongoDB) UpsertReaction(ctx context.Context, reaction models.Reaction) error {
	doc := ReactionDocument{
		MessageID: reaction.MessageID.String(),
		UserID:    reaction.UserID.String(),
		Emoji:     reaction.Emoji,
	}
	_, err := m.Reactions.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return utils.NewAppError(utils.ErrDatabase, "failed to upsert reaction", err)
	}
	return nil
}

// DeleteReaction removes a reaction record if present.
func (m *MongoDB) DeleteReaction(ctx context.Context, reaction models.Reaction) error {
	filter := bson.M{
		"messageId": reaction.MessageID.String(),
		"userId":    reaction.UserID.String(),
		"emoji":     reaction.Emoji,
	}
	_, err := m.Reactions.DeleteOne(ctx, filter)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to delete reaction", err)
	}
	return nil
}

// ListReactions returns all reactions of a conversation grouped by
// message.
func (m *MongoDB) ListReactions(ctx context.Context, conversationID uuid.UUID) (map[uuid.UUID][]models.Reaction, error) {
	out := make(map[uuid.UUID][]models.Reaction)

	// Resolve the conversation's message ids first, then fetch their
	// reactions in one query.
	cursor, err := m.Messages.Find(ctx, bson.M{"conversationId": conversationID.String()},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to list conversation messages", err)
	}
	var messageIDs []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			cursor.Close(ctx)
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode message id", err)
		}
		messageIDs = append(messageIDs, doc.ID)
	}
	cursor.Close(ctx)

	if len(messageIDs) == 0 {
		return out, nil
	}

	cursor, err = m.Reactions.Find(ctx, bson.M{"messageId": bson.M{"$in": messageIDs}})
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to list reactions", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc ReactionDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to decode reaction", err)
		}
		messageID, _ := uuid.Parse(doc.MessageID)
		userID, _ := uuid.Parse(doc.UserID)
		out[messageID] = append(out[messageID], models.Reaction{
			MessageID: messageID,
			UserID:    userID,
			Emoji:     doc.Emoji,
		})
	}
	return out, nil
}
