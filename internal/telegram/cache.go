package telegram

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// tokenCache maps short tokens to values too long for callback_data (64 bytes).
type tokenCache struct {
	lru *expirable.LRU[string, string]
}

func newTokenCache(size int, ttl time.Duration) *tokenCache {
	return &tokenCache{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (c *tokenCache) Put(value string) string {
	token := uuid.New().String()
	c.lru.Add(token, value)
	return token
}

func (c *tokenCache) Get(token string) (string, bool) {
	return c.lru.Get(token)
}
