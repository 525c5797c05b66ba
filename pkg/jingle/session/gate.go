package session

import "sync"

// Gate откладывает запросы до завершения обнаружения внешних сервисов.
// Состояния: NotReady с очередью и Ready. Переход выполняется один раз,
// очередь выполняется в порядке поступления.
type Gate struct {
	mu       sync.Mutex
	ready    bool
	draining bool
	queue    []func()
}

// Submit выполняет fn сразу если шлюз открыт, иначе ставит в очередь
func (g *Gate) Submit(fn func()) {
	g.mu.Lock()
	if !g.ready {
		g.queue = append(g.queue, fn)
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	fn()
}

// Open открывает шлюз и выполняет очередь. Запросы поступившие во время
// выполнения очереди встают в ее конец.
func (g *Gate) Open() {
	g.mu.Lock()
	if g.ready || g.draining {
		g.mu.Unlock()
		return
	}
	g.draining = true
	for {
		queue := g.queue
		g.queue = nil
		if len(queue) == 0 {
			g.ready = true
			g.draining = false
			g.mu.Unlock()
			return
		}
		g.mu.Unlock()
		for _, fn := range queue {
			fn()
		}
		g.mu.Lock()
	}
}

// Ready возвращает true после открытия шлюза
func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// Pending возвращает длину очереди
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}
