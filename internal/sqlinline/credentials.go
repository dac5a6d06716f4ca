package sqlinline

// QSelectCredential returns the stored key for a provider. Blank keys count
// as missing so the environment fallback still applies.
const QSelectCredential = `--sql 3b7c2e91-5d4a-4f08-9c6e-71a2d8f4b5e0
select token
from integration_tokens
where provider = $1::text
  and btrim(token) <> ''
limit 1;
`

// QUpsertCredential replaces the key and merges properties, so rotating a key
// without a workflow url keeps the one stored earlier.
const QUpsertCredential = `--sql e4a9f6d2-18b3-4c7e-a5f0-6d2c9b3e8a17
insert into integration_tokens (provider, token, properties)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb))
on conflict (provider) do update set
    token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`
