package comms

import (
	"sort"

	"go.uber.org/zap"
)

type balanceCandidate struct {
	member *ClusterMember
	state  ClusterState
}

// Balance выравнивает число групп между узлами. Когда все группы
// работают и нет незавершенных запросов, узел запрашивает недостающие до
// средней доли группы у самых загруженных узлов. Запрос, не завершенный
// подключением за RequestTimeout, снимается, а группа исключается из
// балансировки до следующего изменения ее состояния.
func (s *ClusterServer) Balance(allRunning bool) {
	config := s.cfg()
	members := s.snapshot()

	s.stateMu.Lock()
	pending := s.state.HasRequested()
	now := s.now()
	var failed []string
	for group, deadline := range s.requestTimeout {
		if now.After(deadline) {
			failed = append(failed, group)
		}
	}
	sort.Strings(failed)

	changed := false
	switch {
	case allRunning && !pending && len(failed) == 0:
		changed = s.requestForBalanceLocked(len(config.Groups), members)
	case pending && len(failed) > 0:
		for _, group := range failed {
			s.logger.Error("Балансировка группы отключена: подключение к DAC не состоялось",
				zap.String("group", group), zap.Duration("timeout", config.RequestTimeout))
			s.lockBalanceLocked(group)
			delete(s.requestTimeout, group)
			s.state.RemoveRequested(group)
		}
		changed = true
	}
	state := s.state.Clone()
	s.stateMu.Unlock()

	if changed {
		s.broadcastState(state)
	}
}

// requestForBalanceLocked возвращает true, если запрошена хотя бы одна группа
func (s *ClusterServer) requestForBalanceLocked(total int, members []*ClusterMember) bool {
	required := total / (len(members) + 1)
	connected := len(s.state.Connected)
	toRequest := required - connected

	candidates := make([]balanceCandidate, 0, len(members))
	for _, m := range members {
		st, ok := m.State()
		if !ok || st.HasRequested() {
			// состояние узла неизвестно или он сам балансируется
			return false
		}
		candidates = append(candidates, balanceCandidate{member: m, state: st})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].state.Connected) < len(candidates[j].state.Connected)
	})

	if toRequest == 0 {
		for _, c := range candidates {
			n := len(c.state.Connected)
			if n < connected {
				break
			}
			if n > connected+1 {
				toRequest = 1
				break
			}
		}
	}
	if toRequest <= 0 {
		return false
	}

	requested := 0
	for i := len(candidates) - 1; i >= 0 && requested < toRequest; i-- {
		c := candidates[i]
		if len(c.state.Connected) <= required {
			continue
		}
		allowed := len(c.state.Connected) - required

		groups := make([]string, 0, len(c.state.Connected))
		for _, g := range c.state.Connected {
			if !s.unavailable[g] {
				groups = append(groups, g)
			}
		}
		if len(groups) == 0 {
			s.logger.Info("Балансировка с узлом невозможна: все группы исключены",
				zap.String("member", c.member.id))
			continue
		}
		sort.Strings(groups)

		for _, g := range groups {
			if requested >= toRequest || allowed <= 0 {
				break
			}
			s.logger.Info("Для балансировки группа запрошена у узла",
				zap.String("group", g), zap.String("member", c.member.id))
			s.state.AddRequested(g)
			balanceRequestsTotal.Inc()
			requested++
			allowed--
		}
	}
	return s.state.HasRequested()
}
