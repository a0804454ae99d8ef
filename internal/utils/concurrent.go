package utils

import (
	"fmt"
	"sync"
	"time"
)

// KeyMutex 键级互斥锁，同键串行执行，不同键互不阻塞
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyMutex 创建键级互斥锁
func NewKeyMutex() *KeyMutex {
	return &KeyMutex{
		locks: make(map[string]*keyLock),
	}
}

// Lock 锁定指定键
func (km *KeyMutex) Lock(key string) {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &keyLock{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.mu.Lock()
}

// Unlock 解锁指定键
func (km *KeyMutex) Unlock(key string) {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		km.mu.Unlock()
		panic("utils: unlock of unlocked key: " + key)
	}
	l.refs--
	if l.refs == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()

	l.mu.Unlock()
}

// WorkerPool 工作池
type WorkerPool struct {
	workerCount int
	taskQueue   chan func()
	stopChan    chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	started     bool
}

// NewWorkerPool 创建工作池
func NewWorkerPool(workerCount, queueSize int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 4
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &WorkerPool{
		workerCount: workerCount,
		taskQueue:   make(chan func(), queueSize),
		stopChan:    make(chan struct{}),
	}
}

// Start 启动工作池
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started {
		return
	}
	wp.started = true

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.run()
	}
}

func (wp *WorkerPool) run() {
	defer wp.wg.Done()
	for {
		select {
		case task, ok := <-wp.taskQueue:
			if !ok {
				return
			}
			task()
		case <-wp.stopChan:
			// 停止前排空队列中已提交的任务
			for {
				select {
				case task := <-wp.taskQueue:
					task()
				default:
					return
				}
			}
		}
	}
}

// Submit 提交任务，队列已满时立即返回错误
func (wp *WorkerPool) Submit(task func()) error {
	select {
	case <-wp.stopChan:
		return fmt.Errorf("工作池已停止")
	default:
	}

	select {
	case wp.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("任务队列已满")
	}
}

// SubmitWithTimeout 提交任务，队列已满时最多等待 timeout
func (wp *WorkerPool) SubmitWithTimeout(task func(), timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case wp.taskQueue <- task:
		return nil
	case <-wp.stopChan:
		return fmt.Errorf("工作池已停止")
	case <-timer.C:
		return fmt.Errorf("提交任务超时")
	}
}

// Stop 停止工作池并等待在执行的任务完成
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started {
		wp.mu.Unlock()
		return
	}
	wp.started = false
	wp.mu.Unlock()

	close(wp.stopChan)
	wp.wg.Wait()
}

// QueueDepth 当前排队任务数
func (wp *WorkerPool) QueueDepth() int {
	return len(wp.taskQueue)
}
