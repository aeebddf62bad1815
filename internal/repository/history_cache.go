package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"pdf-tutor-go/internal/model"
	"pdf-tutor-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// errStaleFill 表示回填期间会话被写入过，本次回填被放弃。
var errStaleFill = errors.New("history changed during fill")

// historyStore 是最近消息窗口缓存的存储接口。
// 每次写消息都会推进会话的 generation，回填只在 generation 未变时生效。
type historyStore interface {
	Get(ctx context.Context, chatID, field string) ([]byte, error)
	Generation(ctx context.Context, chatID string) (int64, error)
	// Fill 仅当会话 generation 仍等于 gen 时写入，否则返回 errStaleFill。
	Fill(ctx context.Context, chatID, field string, payload []byte, gen int64) error
	Invalidate(ctx context.Context, chatID string) error
}

// cachedChatRepository 在 Redis 中缓存最近消息窗口。
// 写入消息后推进 generation 并删除窗口缓存，数据库始终是唯一可信来源。
type cachedChatRepository struct {
	ChatRepository
	store historyStore
}

// NewCachedChatRepository 用 Redis 包装一个 ChatRepository。redisClient 为 nil 时直接返回原实现。
func NewCachedChatRepository(inner ChatRepository, redisClient *redis.Client, ttl time.Duration) ChatRepository {
	if redisClient == nil {
		return inner
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &cachedChatRepository{ChatRepository: inner, store: &redisHistoryStore{client: redisClient, ttl: ttl}}
}

// RecentMessages 先查 Redis 哈希中以窗口大小为字段的缓存，未命中再回源数据库。
func (r *cachedChatRepository) RecentMessages(ctx context.Context, chatID string, n int) ([]model.Message, error) {
	field := strconv.Itoa(n)

	data, err := r.store.Get(ctx, chatID, field)
	if err == nil {
		var msgs []model.Message
		if jsonErr := json.Unmarshal(data, &msgs); jsonErr == nil {
			return msgs, nil
		}
	} else if err != redis.Nil {
		log.Warnf("[HistoryCache] 读取缓存失败, chatId: %s, error: %v", chatID, err)
	}

	// generation 必须在读库之前取得，读库之后发生的写入才能被回填检测到
	gen, genErr := r.store.Generation(ctx, chatID)

	msgs, err := r.ChatRepository.RecentMessages(ctx, chatID, n)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		log.Warnf("[HistoryCache] 读取 generation 失败, 跳过回填, chatId: %s, error: %v", chatID, genErr)
		return msgs, nil
	}
	if payload, jsonErr := json.Marshal(msgs); jsonErr == nil {
		switch err := r.store.Fill(ctx, chatID, field, payload, gen); {
		case errors.Is(err, errStaleFill):
			log.Debugf("[HistoryCache] 会话在回填期间有新消息, 放弃回填, chatId: %s", chatID)
		case err != nil:
			log.Warnf("[HistoryCache] 写入缓存失败, chatId: %s, error: %v", chatID, err)
		}
	}
	return msgs, nil
}

// AppendPair 写库成功后使缓存失效。
func (r *cachedChatRepository) AppendPair(ctx context.Context, chatID, question, answer string, at time.Time) error {
	if err := r.ChatRepository.AppendPair(ctx, chatID, question, answer, at); err != nil {
		return err
	}
	if err := r.store.Invalidate(ctx, chatID); err != nil {
		log.Warnf("[HistoryCache] 缓存失效失败, chatId: %s, error: %v", chatID, err)
	}
	return nil
}

type redisHistoryStore struct {
	client *redis.Client
	ttl    time.Duration
}

func historyKey(chatID string) string {
	return fmt.Sprintf("chat:%s:recent", chatID)
}

func generationKey(chatID string) string {
	return fmt.Sprintf("chat:%s:gen", chatID)
}

func (s *redisHistoryStore) Get(ctx context.Context, chatID, field string) ([]byte, error) {
	return s.client.HGet(ctx, historyKey(chatID), field).Bytes()
}

func (s *redisHistoryStore) Generation(ctx context.Context, chatID string) (int64, error) {
	gen, err := s.client.Get(ctx, generationKey(chatID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

// Fill 用 WATCH 监视 generation key，检查与写入之间若有 AppendPair 提交，EXEC 会失败。
func (s *redisHistoryStore) Fill(ctx context.Context, chatID, field string, payload []byte, gen int64) error {
	genKey := generationKey(chatID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, historyKey(chatID), field, payload)
			pipe.Expire(ctx, historyKey(chatID), s.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return errStaleFill
	}
	return err
}

// Invalidate 推进 generation 并删除窗口缓存。generation key 的过期时间长于窗口缓存。
func (s *redisHistoryStore) Invalidate(ctx context.Context, chatID string) error {
	genKey := generationKey(chatID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, 2*s.ttl)
		pipe.Del(ctx, historyKey(chatID))
		return nil
	})
	return err
}
