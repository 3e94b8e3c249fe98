package infra

import (
	"context"
	"embed"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"dal-gateway/dal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

//go:embed scripts/*.lua
var scriptFS embed.FS

const (
	ScriptLock        = "redislock.lock"
	ScriptUnlock      = "redislock.unlock"
	ScriptRateLimiter = "ratelimiter"
)

var scriptFiles = map[string]string{
	ScriptLock:        "scripts/lock.lua",
	ScriptUnlock:      "scripts/unlock.lua",
	ScriptRateLimiter: "scripts/ratelimiter.lua",
}

// Scripts carrega os scripts Lua uma vez por processo e guarda o SHA em memória
// e, se dir estiver definido, em <dir>/luasha.<nome>.dat. O arquivo é só cache:
// SHA ausente ou NOSCRIPT faz o script ser registrado de novo.
type Scripts struct {
	dir string
	log *zap.Logger

	mu   sync.Mutex
	shas map[string]string
}

func NewScripts(dir string, log *zap.Logger) *Scripts {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scripts{
		dir:  dir,
		log:  log.With(zap.String("component", "scripts")),
		shas: make(map[string]string),
	}
}

func (s *Scripts) Body(name string) (string, error) {
	path, ok := scriptFiles[name]
	if !ok {
		return "", domain.NewError(domain.KindScriptUnavailable, "script."+name, errors.New("unknown script"))
	}
	b, err := scriptFS.ReadFile(path)
	if err != nil {
		return "", domain.NewError(domain.KindScriptUnavailable, "script."+name, err)
	}
	return string(b), nil
}

// Run executa o script pelo SHA, registrando-o quando o servidor não o conhece.
func (s *Scripts) Run(ctx context.Context, rdb redis.Scripter, name string, keys []string, args ...any) (any, error) {
	sha, err := s.sha(ctx, rdb, name)
	if err != nil {
		return nil, err
	}

	res, err := rdb.EvalSha(ctx, sha, keys, args...).Result()
	if err == nil || !isNoScript(err) {
		return res, err
	}

	s.log.Debug("script missing on server, reloading", zap.String("script", name))
	s.forget(name)
	if sha, err = s.sha(ctx, rdb, name); err != nil {
		return nil, err
	}
	return rdb.EvalSha(ctx, sha, keys, args...).Result()
}

func (s *Scripts) sha(ctx context.Context, rdb redis.Scripter, name string) (string, error) {
	s.mu.Lock()
	sha, ok := s.shas[name]
	s.mu.Unlock()
	if ok {
		return sha, nil
	}

	if sha = s.readCache(name); sha != "" {
		s.remember(name, sha)
		return sha, nil
	}

	body, err := s.Body(name)
	if err != nil {
		return "", err
	}
	sha, err = rdb.ScriptLoad(ctx, body).Result()
	if err != nil {
		return "", domain.NewError(domain.KindScriptUnavailable, "script."+name, err)
	}
	s.remember(name, sha)
	s.writeCache(name, sha)
	return sha, nil
}

func (s *Scripts) remember(name, sha string) {
	s.mu.Lock()
	s.shas[name] = sha
	s.mu.Unlock()
}

func (s *Scripts) forget(name string) {
	s.mu.Lock()
	delete(s.shas, name)
	s.mu.Unlock()
	if p := s.cachePath(name); p != "" {
		_ = os.Remove(p)
	}
}

func (s *Scripts) cachePath(name string) string {
	if s.dir == "" {
		return ""
	}
	return filepath.Join(s.dir, "luasha."+name+".dat")
}

func (s *Scripts) readCache(name string) string {
	p := s.cachePath(name)
	if p == "" {
		return ""
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return ""
	}
	sha := strings.TrimSpace(string(b))
	if len(sha) != 40 {
		return ""
	}
	return sha
}

func (s *Scripts) writeCache(name, sha string) {
	p := s.cachePath(name)
	if p == "" {
		return
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.log.Debug("script cache dir", zap.Error(err))
		return
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(sha), 0o644); err != nil {
		s.log.Debug("script cache write", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, p); err != nil {
		s.log.Debug("script cache rename", zap.Error(err))
	}
}

func isNoScript(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOSCRIPT")
}
