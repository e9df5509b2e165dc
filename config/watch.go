package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher 基于fsnotify监听配置文件变化并热加载。
// 编辑器常以 rename+create 方式保存，故对事件按写入/创建处理，
// 并带冷却时间避免同一次保存触发多次重载。
type Watcher struct {
	path     string
	cooldown time.Duration
	fw       *fsnotify.Watcher

	lastReload time.Time
	mu         sync.Mutex
	stopChan   chan struct{}
	doneChan   chan struct{}
}

// NewWatcher 创建配置监听器
func NewWatcher(path string, cooldown time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}
	return &Watcher{
		path:     path,
		cooldown: cooldown,
		fw:       fw,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start 启动监听。onUpdate在配置成功重载并通过校验后收到新配置；
// onError在重载失败时收到错误（可为nil）。
func (w *Watcher) Start(ctx context.Context, onUpdate func(AppConfig), onError func(error)) error {
	if err := w.fw.Add(w.path); err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}

	go w.watch(ctx, onUpdate, onError)
	return nil
}

// Stop 停止监听并关闭底层watcher
func (w *Watcher) Stop() error {
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}

	select {
	case <-w.doneChan:
	case <-time.After(1 * time.Second):
	}

	return w.fw.Close()
}

// LastReloadTime 返回最后一次成功重载的时间
func (w *Watcher) LastReloadTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastReload
}

func (w *Watcher) watch(ctx context.Context, onUpdate func(AppConfig), onError func(error)) {
	defer close(w.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				w.reload(onUpdate, onError)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}

func (w *Watcher) reload(onUpdate func(AppConfig), onError func(error)) {
	w.mu.Lock()
	if time.Since(w.lastReload) < w.cooldown {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	cfg, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		// 坏配置不应用，继续使用旧配置
		if onError != nil {
			onError(err)
		}
		return
	}

	w.mu.Lock()
	w.lastReload = time.Now()
	w.mu.Unlock()

	if onUpdate != nil {
		onUpdate(cfg)
	}
}
