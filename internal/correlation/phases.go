package correlation

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/HerbHall/netcorrelate/internal/services"
	"github.com/HerbHall/netcorrelate/internal/tags"
	"github.com/HerbHall/netcorrelate/pkg/models"
	"go.uber.org/zap"
)

// snapshot reads every host in one query. Phases never reuse a snapshot
// taken by an earlier phase.
func (e *Engine) snapshot(ctx context.Context) ([]models.Host, error) {
	hosts, err := services.NewSQLiteHostRepository(e.store.DB()).ListAll(ctx)
	if err != nil {
		return nil, err
	}
	sortHosts(hosts)
	return hosts, nil
}

// sortHosts orders hosts by first_seen, then row id.
func sortHosts(hosts []models.Host) {
	sort.SliceStable(hosts, func(i, j int) bool {
		if !hosts[i].FirstSeen.Equal(hosts[j].FirstSeen) {
			return hosts[i].FirstSeen.Before(hosts[j].FirstSeen)
		}
		return hosts[i].ID < hosts[j].ID
	})
}

// groupBy buckets hosts by key, dropping empty keys. Keys are returned in
// sorted order and each bucket keeps the input order.
func groupBy(hosts []models.Host, key func(*models.Host) string) ([]string, map[string][]models.Host) {
	groups := make(map[string][]models.Host)
	for i := range hosts {
		k := key(&hosts[i])
		if k == "" {
			continue
		}
		groups[k] = append(groups[k], hosts[i])
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, groups
}

// consolidateByIP merges every group of hosts sharing an IP address into
// the oldest one. IP equality is treated as identity.
func (e *Engine) consolidateByIP(ctx context.Context, r *run, stats *models.PhaseStats) {
	hosts, err := e.snapshot(ctx)
	if err != nil {
		stats.Errors++
		r.fail(stats.Name, err)
		return
	}

	keys, groups := groupBy(hosts, func(h *models.Host) string { return tags.NormalizeIP(h.IPAddress) })
	for _, ip := range keys {
		g := groups[ip]
		if len(g) < 2 {
			continue
		}
		stats.Groups++
		e.merge(ctx, r, stats, g[0], g[1:], models.MergeIPConsolidation, tags.Make(tags.PrefixIP, ip))
	}
}

// addrCluster is a set of hosts that share at least one address.
type addrCluster struct {
	addrs map[string]struct{}
	hosts []models.Host
}

func hostAddrs(h *models.Host) []string {
	var out []string
	if ip := tags.NormalizeIP(h.IPAddress); ip != "" {
		out = append(out, ip)
	}
	if ip := tags.NormalizeIP(h.IPv6Address); ip != "" {
		out = append(out, ip)
	}
	return out
}

// clusterByAddress partitions hosts so that hosts sharing any address end
// up in the same cluster. Input order is preserved inside each cluster.
func clusterByAddress(hosts []models.Host) []*addrCluster {
	var clusters []*addrCluster
	for i := range hosts {
		addrs := hostAddrs(&hosts[i])
		var hit []int
		for ci, c := range clusters {
			for _, a := range addrs {
				if _, ok := c.addrs[a]; ok {
					hit = append(hit, ci)
					break
				}
			}
		}

		if len(hit) == 0 {
			c := &addrCluster{addrs: make(map[string]struct{})}
			for _, a := range addrs {
				c.addrs[a] = struct{}{}
			}
			c.hosts = []models.Host{hosts[i]}
			clusters = append(clusters, c)
			continue
		}

		target := clusters[hit[0]]
		for _, ci := range hit[1:] {
			for a := range clusters[ci].addrs {
				target.addrs[a] = struct{}{}
			}
			target.hosts = append(target.hosts, clusters[ci].hosts...)
		}
		for _, a := range addrs {
			target.addrs[a] = struct{}{}
		}
		target.hosts = append(target.hosts, hosts[i])
		for j := len(hit) - 1; j >= 1; j-- {
			clusters = append(clusters[:hit[j]], clusters[hit[j]+1:]...)
		}
	}
	for _, c := range clusters {
		sortHosts(c.hosts)
	}
	return clusters
}

// linkByMAC groups hosts by MAC. Hosts that share a MAC and an address are
// duplicates and are merged; the remaining hosts, if they span more than one
// IP, are linked under a DeviceIdentity without being merged.
func (e *Engine) linkByMAC(ctx context.Context, r *run, stats *models.PhaseStats) {
	hosts, err := e.snapshot(ctx)
	if err != nil {
		stats.Errors++
		r.fail(stats.Name, err)
		return
	}

	keys, groups := groupBy(hosts, func(h *models.Host) string { return tags.NormalizeMAC(h.MACAddress) })
	for _, mac := range keys {
		g := groups[mac]
		if len(g) < 2 {
			continue
		}
		stats.Groups++
		key := tags.Make(tags.PrefixMAC, mac)

		var remaining []models.Host
		for _, c := range clusterByAddress(g) {
			if len(c.hosts) < 2 {
				remaining = append(remaining, c.hosts[0])
				continue
			}
			if updated, ok := e.merge(ctx, r, stats, c.hosts[0], c.hosts[1:], models.MergeMACDuplicate, key); ok {
				remaining = append(remaining, *updated)
			} else {
				remaining = append(remaining, c.hosts[0])
			}
		}

		if distinctIPs(remaining) < 2 {
			continue
		}
		sortHosts(remaining)
		guids := make([]string, len(remaining))
		for i := range remaining {
			guids[i] = remaining[i].GUID
		}
		changed, err := e.linkIdentity(ctx, mac, guids)
		if err != nil {
			stats.Errors++
			r.fail(stats.Name, err)
			continue
		}
		if changed {
			r.res.DeviceIdentitiesCreated++
			e.metrics.IdentitiesLinked.Inc()
		}
	}
}

func distinctIPs(hosts []models.Host) int {
	seen := make(map[string]struct{}, len(hosts))
	for i := range hosts {
		if ip := tags.NormalizeIP(hosts[i].IPAddress); ip != "" {
			seen[ip] = struct{}{}
		}
	}
	return len(seen)
}

// tagCluster is a set of hosts sharing a name tag with compatible MACs.
type tagCluster struct {
	mac   string
	hosts []models.Host
}

// macConflict is a mac_mismatch found during a tag pass.
type macConflict struct {
	a, b models.Host
	key  string
}

// mergeByTag merges hosts that share a hostname or FQDN tag, unless their
// MAC addresses disagree, in which case a Conflict is recorded instead.
//
// A merge hands the donor's tags and MAC to the survivor, which can create
// new matches under keys already visited. Passes repeat until one completes
// without merging, and only that pass records conflicts.
func (e *Engine) mergeByTag(ctx context.Context, r *run, stats *models.PhaseStats) {
	hosts, err := e.snapshot(ctx)
	if err != nil {
		stats.Errors++
		r.fail(stats.Name, err)
		return
	}

	live := make(map[string]models.Host, len(hosts))
	for i := range hosts {
		live[hosts[i].GUID] = hosts[i]
	}
	ambiguous := e.cfg.ambiguousSet()
	failed := make(map[string]struct{})

	for {
		conflicts, merged := e.tagPass(ctx, r, stats, live, ambiguous, failed)
		if merged > 0 {
			continue
		}
		for _, c := range conflicts {
			e.recordConflict(ctx, r, stats, c.a, c.b, c.key)
		}
		return
	}
}

// tagPass makes one sweep over the name tags of the live hosts, merging
// compatible clusters. It returns the conflicts seen and the number of
// successful merges. live is updated in place; merges that failed once are
// remembered in failed and not retried.
func (e *Engine) tagPass(ctx context.Context, r *run, stats *models.PhaseStats, live map[string]models.Host, ambiguous, failed map[string]struct{}) ([]macConflict, int) {
	hosts := make([]models.Host, 0, len(live))
	for _, h := range live {
		hosts = append(hosts, h)
	}
	sortHosts(hosts)

	index := make(map[string][]string)
	for i := range hosts {
		for _, t := range hosts[i].Tags {
			if isNameTag(t, ambiguous) {
				index[t] = append(index[t], hosts[i].GUID)
			}
		}
	}
	keys := make([]string, 0, len(index))
	for k := range index {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conflicts []macConflict
	merged := 0
	for _, key := range keys {
		var members []models.Host
		seen := make(map[string]struct{})
		for _, guid := range index[key] {
			h, ok := live[guid]
			if !ok {
				continue
			}
			if _, dup := seen[guid]; dup {
				continue
			}
			seen[guid] = struct{}{}
			members = append(members, h)
		}
		if len(members) < 2 {
			continue
		}
		stats.Groups++
		sortHosts(members)

		var clusters []*tagCluster
		for _, h := range members {
			mac := tags.NormalizeMAC(h.MACAddress)
			var home *tagCluster
			for _, c := range clusters {
				if c.mac != "" && mac != "" && c.mac != mac {
					conflicts = append(conflicts, macConflict{a: c.hosts[0], b: h, key: key})
					continue
				}
				if home == nil {
					home = c
				}
			}
			if home == nil {
				clusters = append(clusters, &tagCluster{mac: mac, hosts: []models.Host{h}})
				continue
			}
			home.hosts = append(home.hosts, h)
			if home.mac == "" {
				home.mac = mac
			}
		}

		for _, c := range clusters {
			if len(c.hosts) < 2 {
				continue
			}
			fk := services.PairKey(guidsOfHosts(c.hosts))
			if _, ok := failed[fk]; ok {
				continue
			}
			updated, ok := e.merge(ctx, r, stats, c.hosts[0], c.hosts[1:], models.MergeTag, key)
			if !ok {
				failed[fk] = struct{}{}
				continue
			}
			live[updated.GUID] = *updated
			for _, d := range c.hosts[1:] {
				delete(live, d.GUID)
			}
			merged++
		}
	}
	return conflicts, merged
}

func guidsOfHosts(hosts []models.Host) []string {
	out := make([]string, len(hosts))
	for i := range hosts {
		out[i] = hosts[i].GUID
	}
	return out
}

// isNameTag reports whether t is a hostname: or fqdn: tag usable as a merge key.
func isNameTag(t string, ambiguous map[string]struct{}) bool {
	var v string
	if hv, ok := tags.Value(t, tags.PrefixHostname); ok {
		v = hv
	} else if fv, ok := tags.Value(t, tags.PrefixFQDN); ok {
		v = fv
	} else {
		return false
	}
	v = strings.TrimSuffix(v, ".")
	if v == "" {
		return false
	}
	_, skip := ambiguous[v]
	return !skip
}

// recordConflict stores a mac_mismatch conflict between a and b once per
// run. An existing unresolved conflict for the pair counts as re-detected;
// a resolved one is left alone.
func (e *Engine) recordConflict(ctx context.Context, r *run, stats *models.PhaseStats, a, b models.Host, key string) {
	pair := []string{a.GUID, b.GUID}
	sort.Strings(pair)
	pk := services.PairKey(pair)
	if _, dup := r.pairs[pk]; dup {
		return
	}
	r.pairs[pk] = struct{}{}

	repo := services.NewSQLiteConflictRepository(e.store.DB())
	existing, err := repo.FindByPair(ctx, models.ConflictReasonMACMismatch, pair)
	switch {
	case err == nil:
		if !existing.IsResolved() {
			r.res.ConflictsDetected++
			e.metrics.ConflictsDetected.Inc()
		}
		return
	case !errors.Is(err, services.ErrNotFound):
		stats.Errors++
		r.fail(stats.Name, err)
		return
	}

	c := &models.Conflict{
		HostGUIDs:  pair,
		Reason:     models.ConflictReasonMACMismatch,
		MatchKey:   key,
		DetectedAt: e.now(),
	}
	if err := repo.Create(ctx, c); err != nil {
		if errors.Is(err, services.ErrAlreadyExists) {
			return
		}
		stats.Errors++
		r.fail(stats.Name, err)
		return
	}
	r.res.ConflictsDetected++
	e.metrics.ConflictsDetected.Inc()
	e.events.publish(ctx, TopicConflictDetected, *c)
	e.logger.Info("conflict detected",
		zap.String("conflict_id", c.ID),
		zap.String("match_key", key),
		zap.Strings("hosts", pair),
	)
}

// revalidateConflicts auto-resolves unresolved conflicts whose evidence no
// longer holds: a referenced host is gone, or the hosts stopped carrying
// differing MAC addresses.
func (e *Engine) revalidateConflicts(ctx context.Context, r *run, stats *models.PhaseStats) {
	conflicts := services.NewSQLiteConflictRepository(e.store.DB())
	open, err := conflicts.ListUnresolved(ctx)
	if err != nil {
		stats.Errors++
		r.fail(stats.Name, err)
		return
	}

	hosts := services.NewSQLiteHostRepository(e.store.DB())
	for i := range open {
		c := &open[i]
		stats.Groups++
		present, err := hosts.ListByGUIDs(ctx, c.HostGUIDs)
		if err != nil {
			stats.Errors++
			r.fail(stats.Name, err)
			continue
		}

		var reason string
		switch {
		case len(present) < len(c.HostGUIDs):
			reason = "referenced host no longer exists"
		case distinctMACs(present) < 2:
			reason = "hosts no longer report different MAC addresses"
		default:
			continue
		}

		now := e.now()
		if err := conflicts.Resolve(ctx, c.ID, reason, models.ResolutionAutoStale, actorCorrelation, now); err != nil {
			if errors.Is(err, services.ErrNotFound) {
				continue
			}
			stats.Errors++
			r.fail(stats.Name, err)
			continue
		}
		r.res.ConflictsAutoResolved++
		e.metrics.ConflictsResolved.WithLabelValues(string(models.ResolutionAutoStale)).Inc()

		c.Status = models.ConflictResolved
		c.Resolution = reason
		c.ResolutionMethod = models.ResolutionAutoStale
		c.ResolvedBy = actorCorrelation
		c.ResolvedAt = &now
		e.events.publish(ctx, TopicConflictResolved, *c)
		e.logger.Info("stale conflict resolved", zap.String("conflict_id", c.ID), zap.String("reason", reason))
	}
}

func distinctMACs(hosts []models.Host) int {
	seen := make(map[string]struct{}, len(hosts))
	for i := range hosts {
		if mac := tags.NormalizeMAC(hosts[i].MACAddress); mac != "" {
			seen[mac] = struct{}{}
		}
	}
	return len(seen)
}
