package store

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSearchFilterOrderLimit(t *testing.T) {
	params := url.Values{
		"ids":      {"1,2,3"},
		"order_by": {"registered"},
		"arrange":  {"desc"},
		"limit":    {"10"},
		"offset":   {"5"},
	}
	query, args, err := BuildSearch(executionSearchSpec, params)
	require.NoError(t, err)
	require.Contains(t, query, "WHERE (id_execution=$1 OR id_execution=$2 OR id_execution=$3)")
	require.Contains(t, query, "ORDER BY timestamp_registered desc")
	require.Contains(t, query, "LIMIT 10 OFFSET 5")
	require.Equal(t, []interface{}{"1", "2", "3"}, args)
}

func TestBuildSearchANDsDistinctKeys(t *testing.T) {
	params := url.Values{
		"ids":      {"1"},
		"sessions": {"7"},
	}
	query, _, err := BuildSearch(executionSearchSpec, params)
	require.NoError(t, err)
	require.Contains(t, query, "(id_execution=$1) AND (fk_session=$2)")
}

func TestBuildSearchRejectsUnknownKey(t *testing.T) {
	_, _, err := BuildSearch(executionSearchSpec, url.Values{"bogus": {"x"}})
	require.Error(t, err)
}

func TestBuildSearchRejectsArrangeWithoutOrderBy(t *testing.T) {
	_, _, err := BuildSearch(executionSearchSpec, url.Values{"arrange": {"asc"}})
	require.Error(t, err)
}

func TestBuildSearchRejectsOffsetWithoutLimit(t *testing.T) {
	_, _, err := BuildSearch(executionSearchSpec, url.Values{"offset": {"5"}})
	require.Error(t, err)
}

func TestBuildSearchRejectsNonPositiveLimit(t *testing.T) {
	_, _, err := BuildSearch(executionSearchSpec, url.Values{"limit": {"0"}})
	require.Error(t, err)

	_, _, err = BuildSearch(executionSearchSpec, url.Values{"limit": {"-1"}})
	require.Error(t, err)
}

func TestBuildSearchRejectsUnknownOrderByKey(t *testing.T) {
	_, _, err := BuildSearch(executionSearchSpec, url.Values{"order_by": {"nope"}})
	require.Error(t, err)
}

func TestBuildSearchRejectsInvalidArrangeValue(t *testing.T) {
	_, _, err := BuildSearch(executionSearchSpec, url.Values{"order_by": {"id"}, "arrange": {"sideways"}})
	require.Error(t, err)
}

func TestBuildSearchSessionSpec(t *testing.T) {
	query, args, err := BuildSearch(sessionSearchSpec, url.Values{"ips": {"10.0.0.5,10.0.0.6"}})
	require.NoError(t, err)
	require.Contains(t, query, "SELECT id_session, session_start, session_end, env_ip, env_port, env_os_system FROM session")
	require.Contains(t, query, "WHERE (env_ip=$1 OR env_ip=$2)")
	require.Equal(t, []interface{}{"10.0.0.5", "10.0.0.6"}, args)
}

func TestBuildSearchEmptyParamsSelectsEverything(t *testing.T) {
	query, args, err := BuildSearch(executionSearchSpec, url.Values{})
	require.NoError(t, err)
	require.Equal(t, "SELECT * FROM execution", query)
	require.Empty(t, args)
}
