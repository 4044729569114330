package registry

import "context"

// listPublicQuery implements the published-list selection rule: every Alive
// instance, every Dying instance that was Alive before failing, and every
// Moving instance that was Alive before and whose destination isn't
// confirmed Alive yet - all excluding hidden instances.
const listPublicQuery = `
SELECT hostname FROM instances
WHERE hide_from_list = 0 AND state = ?

UNION

SELECT i.hostname FROM instances i
JOIN dying_state_data d ON d.instance_id = i.id
WHERE i.hide_from_list = 0 AND i.state = ? AND d.previous_state = ?

UNION

SELECT i.hostname FROM instances i
JOIN moving_state_data m ON m.instance_id = i.id
JOIN instances t ON t.id = m.target_id
WHERE i.hide_from_list = 0 AND i.state = ? AND m.previous_state = ? AND t.state != ?
`

// ListPublicHostnames returns the hostnames that should appear in the
// published list, per the selection rule above.
func (r *Registry) ListPublicHostnames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, listPublicQuery,
		int(Alive),
		int(Dying), int(Alive),
		int(Moving), int(Alive), int(Alive),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}
